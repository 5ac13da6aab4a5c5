package snowflake

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidWorkerID   = errors.New("snowflake: worker ID out of range")
	ErrClockRegression   = errors.New("snowflake: clock moved backwards")
	ErrTimestampOverflow = errors.New("snowflake: timestamp exceeds 41-bit range")
)

// ClockRegressionError is returned by Generate when the wall clock reads
// earlier than the last millisecond the lane issued an ID for. The lane is
// left untouched; the caller decides whether to retry, alert or fail.
type ClockRegressionError struct {
	Last int64 // last issued millisecond
	Now  int64 // observed millisecond
}

func (e *ClockRegressionError) Error() string {
	return fmt.Sprintf("snowflake: clock moved backwards by %dms, refusing to generate ID (last=%d now=%d)",
		e.Last-e.Now, e.Last, e.Now)
}

// Is reports ErrClockRegression so callers can match with errors.Is.
func (e *ClockRegressionError) Is(target error) bool {
	return target == ErrClockRegression
}

// Behind returns how far the clock has regressed.
func (e *ClockRegressionError) Behind() int64 {
	return e.Last - e.Now
}
