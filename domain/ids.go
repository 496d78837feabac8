package domain

import (
	"strconv"
	"sync/atomic"
	"time"
)

var lastTimestamp int64

// nextTimestamp returns the wall clock in nanoseconds, bumped so that every
// call in the process yields a strictly larger value.
func nextTimestamp() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastTimestamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, now) {
			return now
		}
	}
}

// NewTaskID returns a fresh task id derived from the monotonic clock reading.
func NewTaskID() string {
	return strconv.FormatInt(nextTimestamp(), 36)
}
