package models

import (
	"fmt"
	"time"
)

const monthRefLayout = "2006-01"

// MonthRef is a calendar month label in YYYY-MM form. Lexical order is
// chronological order.
type MonthRef string

// MonthOf derives the month reference of t as seen in loc. A nil loc keeps
// the location already encoded in t.
func MonthOf(t time.Time, loc *time.Location) MonthRef {
	if loc != nil {
		t = t.In(loc)
	}
	return MonthRef(t.Format(monthRefLayout))
}

// ParseMonthRef validates s as a YYYY-MM label.
func ParseMonthRef(s string) (MonthRef, error) {
	if _, err := time.Parse(monthRefLayout, s); err != nil {
		return "", fmt.Errorf("month ref %q: want YYYY-MM", s)
	}
	return MonthRef(s), nil
}

func (m MonthRef) String() string { return string(m) }
