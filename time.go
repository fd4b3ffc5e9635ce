package admission

import "time"

// epochSkew is the absolute distance between two unix second stamps.
func epochSkew(a, b int64) time.Duration {
	d := a - b
	if d < 0 {
		d = -d
	}
	return time.Duration(d) * time.Second
}

// elapsedSince reports how long ago the unix second stamp at was, seen at now.
func elapsedSince(now time.Time, at int64) time.Duration {
	return time.Duration(now.Unix()-at) * time.Second
}
