// Package alerts implements the rule evaluation engine and webhook delivery
// for availability alerting. Rules are evaluated against the records each
// evaluation cycle produces for a device; webhooks are delivered to Teams,
// Slack or generic HTTP targets.
package alerts
