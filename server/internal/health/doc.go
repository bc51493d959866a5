// Package health reports backend readiness through the standard gRPC
// health service.
//
// Reporter pings each configured backend (Postgres, Redis) on an interval
// and sets the serving status of the matching health service name. The
// overall status (service "") is SERVING only while every backend answers.
package health
