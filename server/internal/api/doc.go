// Package api implements the HTTP REST API for the reachability server.
//
// New returns an http.Handler that serves:
//
//	GET /api/v1/health                     device count, mean day availability
//	GET /api/v1/devices                    latest records grouped by device
//	GET /api/v1/devices/{id}/availability  ad-hoc calculation
//	GET /api/v1/alerts                     firing and recently resolved alerts
//	GET /api/v1/snapshot                   full dump, also pushed over WebSocket
//
// The ad-hoc endpoint takes period=day|week|month|year or window=<seconds>
// (default period=day) and the optional policy, precision and now
// (epoch seconds) parameters. It answers 400 for invalid arguments, 404 for
// an unknown device and 429 when the rate limit is exceeded.
//
// All endpoints respond with Content-Type: application/json and return 405
// for non-GET methods. An undefined availability is encoded as null.
package api
