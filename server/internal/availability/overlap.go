package availability

// OutageSeconds sums the downtime of outages that falls inside the window
// [now-window, now].
//
// An ongoing outage is charged up to now. An outage that began before the
// window has its start moved to the window boundary. Contributions are not
// clamped: an interval that ended before the window adds a negative amount,
// and overlapping intervals are counted twice.
func OutageSeconds(outages []Outage, window, now int64) int64 {
	cutoff := now - window
	var sum int64
	for _, o := range outages {
		end := now
		if o.EndedAt != nil {
			end = *o.EndedAt
		}
		start := o.StartedAt
		if start < cutoff {
			start = cutoff
		}
		sum += end - start
	}
	return sum
}
