// Package metrics exposes availability results as Prometheus collectors.
package metrics
