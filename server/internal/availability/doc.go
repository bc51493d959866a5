// Package availability computes the fraction of a trailing window during
// which a device was reachable, given its continuous-uptime counter and the
// outage intervals that overlap the window.
//
// Compute(Input) is the pure entry point: every value it needs, including
// "now", is passed in. Calculator wraps it for callers that want outages
// fetched from an OutageSource and the policy read from configuration on
// every call.
//
// Two accounting policies are supported:
//
//	decreasing: start from 100% and debit recorded outages.
//	increasing: start from 0% and credit only time covered by recorded
//	             history (continuous uptime plus the span since the oldest
//	             outage's tracking began).
//
// Overlapping outage records are not merged and negative contributions from
// intervals that end before the window are summed as-is. Results are rounded
// half away from zero to the requested precision and are not clamped.
package availability
