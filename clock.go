package snowflake

import "time"

// Clock reports the current time in whole milliseconds since the Unix epoch.
type Clock interface {
	NowMilli() int64
}

// ClockFunc adapts a plain function to the Clock interface.
type ClockFunc func() int64

func (f ClockFunc) NowMilli() int64 { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(func() int64 { return time.Now().UnixMilli() })
