// Package results keeps the latest availability record per device and period.
//
// The evaluator writes one Record for every (device, period) pair each
// cycle; the REST API and the WebSocket hub read them back with List.
// Memory keeps records in-process and drops the ones that were not
// refreshed within the TTL. Redis keeps one hash per device so that several
// API replicas can serve the same results.
package results
