package capture

import "time"

// Device read pacing. A stream that keeps failing is abandoned after
// maxReadFailures consecutive errors.
const (
	readRetryBase   = 5 * time.Millisecond
	readRetryMax    = 200 * time.Millisecond
	maxReadFailures = 50
)

// readRetry paces a capture loop after failed device reads.
type readRetry struct {
	failures int
}

// fail records a failed read. It returns the pause before the next read,
// doubling per consecutive failure, and false once the stream should be
// given up.
func (r *readRetry) fail() (time.Duration, bool) {
	r.failures++
	if r.failures >= maxReadFailures {
		return 0, false
	}
	d := readRetryBase << min(r.failures-1, 8)
	return min(d, readRetryMax), true
}

// ok resets the failure count after a successful read.
func (r *readRetry) ok() { r.failures = 0 }
