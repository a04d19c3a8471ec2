// Package units converts between the timestamp representations used by the
// station network: ext timestamps (nanoseconds since the Unix epoch), split
// (seconds, nanoseconds) pairs and wall-clock times.
package units

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NanosPerSecond is the number of ext timestamp units per second.
const NanosPerSecond int64 = 1_000_000_000

// SplitExt splits an ext timestamp into whole seconds and the nanosecond
// remainder. Seconds round towards negative infinity, so nanoseconds always
// lies in [0, 1e9), also before the epoch.
func SplitExt(ext int64) (seconds, nanoseconds int64) {
	seconds, nanoseconds = ext/NanosPerSecond, ext%NanosPerSecond
	if nanoseconds < 0 {
		seconds--
		nanoseconds += NanosPerSecond
	}
	return seconds, nanoseconds
}

// JoinExt builds an ext timestamp from seconds and nanoseconds.
func JoinExt(seconds, nanoseconds int64) int64 {
	return seconds*NanosPerSecond + nanoseconds
}

// ExtToTime converts an ext timestamp to a UTC time.
func ExtToTime(ext int64) time.Time {
	s, ns := SplitExt(ext)
	return time.Unix(s, ns).UTC()
}

// TimeToExt converts t to an ext timestamp.
func TimeToExt(t time.Time) int64 {
	return t.UnixNano()
}

// ParseExt accepts an integer ext timestamp, an RFC3339 time or a
// YYYY-MM-DD date (midnight UTC).
func ParseExt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return TimeToExt(t), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return TimeToExt(t), nil
	}
	return 0, fmt.Errorf("invalid timestamp %q: want nanoseconds, RFC3339 or YYYY-MM-DD", s)
}

// ParseWindow accepts a bare integer number of nanoseconds or a Go duration
// string such as "2us" and returns nanoseconds. The result must be positive.
func ParseWindow(s string) (int64, error) {
	s = strings.TrimSpace(s)
	var ns int64
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		ns = n
	} else {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid window %q: %w", s, err)
		}
		ns = d.Nanoseconds()
	}
	if ns <= 0 {
		return 0, fmt.Errorf("window must be positive, got %q", s)
	}
	return ns, nil
}

// FormatExt renders an ext timestamp as RFC3339 with nanoseconds.
func FormatExt(ext int64) string {
	return ExtToTime(ext).Format(time.RFC3339Nano)
}
