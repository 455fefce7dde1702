package export

import (
	"fmt"
	"time"
)

// Month is a calendar month used to slice exports.
type Month struct {
	Year  int
	Month time.Month
}

// MonthOf returns the calendar month containing t (in t's location).
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// Add shifts the month by offset, which may be negative.
func (m Month) Add(offset int) Month {
	y, mo := m.Year, int(m.Month)+offset
	for mo > 12 {
		y++
		mo -= 12
	}
	for mo < 1 {
		y--
		mo += 12
	}
	return Month{Year: y, Month: time.Month(mo)}
}

// After reports whether m is a later month than o.
func (m Month) After(o Month) bool {
	if m.Year != o.Year {
		return m.Year > o.Year
	}
	return m.Month > o.Month
}

// Contains reports whether t falls into the month.
func (m Month) Contains(t time.Time) bool {
	return t.Year() == m.Year && t.Month() == m.Month
}

func (m Month) String() string {
	return fmt.Sprintf("%d_%02d", m.Year, int(m.Month))
}
