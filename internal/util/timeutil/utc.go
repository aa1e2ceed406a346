package timeutil

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// UTCTime is a time.Time that is always stored and compared in UTC. Using it
// instead of bare time.Time keeps timestamps round-tripping through the
// database without timezone drift.
type UTCTime time.Time

func (t UTCTime) Value() (driver.Value, error) {
	return time.Time(t), nil
}

func (t UTCTime) UTC() time.Time {
	return time.Time(t).UTC()
}

func (t UTCTime) Compare(u UTCTime) int {
	return time.Time(t).Compare(time.Time(u))
}

func (t UTCTime) Before(u UTCTime) bool {
	return time.Time(t).Before(time.Time(u))
}

func (t UTCTime) After(u UTCTime) bool {
	return time.Time(t).After(time.Time(u))
}

func (t UTCTime) Equal(u UTCTime) bool {
	return time.Time(t).Equal(time.Time(u))
}

func (t *UTCTime) Scan(value any) error {
	if value == nil {
		return nil
	}
	cvt, err := driver.DefaultParameterConverter.ConvertValue(value)
	if err != nil {
		return fmt.Errorf("convert: %w", err)
	}
	cvtTime, ok := cvt.(time.Time)
	if !ok {
		return fmt.Errorf("expected type time.Time, got type %T", cvt)
	}
	*t = UTCTime(cvtTime)
	return nil
}

func NowUTC() UTCTime {
	return UTCTime(time.Now().UTC())
}

func (t UTCTime) Add(delta time.Duration) UTCTime {
	return UTCTime(time.Time(t).Add(delta))
}

func (t UTCTime) Sub(u UTCTime) time.Duration {
	return time.Time(t).Sub(time.Time(u))
}

func Max(a, b UTCTime) UTCTime {
	if a.Before(b) {
		return b
	}
	return a
}
