// Package auth provides API key authentication for the gRPC health service
// and the REST API.
//
// All checks share one rule: when mode is not "apikey" or no key is
// configured, every request passes through, which keeps local development
// free of credentials. Otherwise the named header (gRPC metadata key or HTTP
// header) must carry exactly the configured key. gRPC calls fail with
// codes.Unauthenticated and HTTP requests with 401.
package auth
