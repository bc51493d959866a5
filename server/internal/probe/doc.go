// Package probe refreshes device uptime from Prometheus exposition pages.
//
// A device's uptime is the number of seconds it has been continuously
// reachable. Devices running node_exporter expose it indirectly as
// node_time_seconds minus node_boot_time_seconds; Source scrapes that page
// and overwrites the stored uptime before each evaluation. When the scrape
// fails the uptime becomes unknown, which the increasing accounting policy
// reports as an undefined availability rather than a guess.
package probe
