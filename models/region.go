package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// NationalLabel is how the national aggregate is shown to people.
const NationalLabel = "Nacional"

// nationalAliases are the user-facing spellings that mean "no region filter".
var nationalAliases = map[string]struct{}{
	"":         {},
	"nacional": {},
	"national": {},
	"br":       {},
	"brasil":   {},
	"brazil":   {},
}

// Region is an optional region label. The zero value is the national
// aggregate, stored as NULL. Any other value carries the raw label verbatim:
// the aggregation path never normalizes labels, so "SP", "sp" and "Nacional"
// are all distinct regions there.
type Region struct {
	label string
	set   bool
}

// National returns the national aggregate region.
func National() Region { return Region{} }

// NewRegion wraps a raw label exactly as stored.
func NewRegion(label string) Region {
	return Region{label: label, set: true}
}

// ParseRegion turns a user-supplied region filter into a Region. Blank
// input and the known national spellings (any case) map to National;
// anything else is only trimmed and kept verbatim, so a label returned by
// ListRegions always selects its own rows.
func ParseRegion(s string) Region {
	s = strings.TrimSpace(s)
	if _, ok := nationalAliases[strings.ToLower(s)]; ok {
		return National()
	}
	return NewRegion(s)
}

// IsNational reports whether r is the national aggregate.
func (r Region) IsNational() bool { return !r.set }

// Label returns the raw label, empty for the national aggregate.
func (r Region) Label() string { return r.label }

func (r Region) String() string {
	if !r.set {
		return NationalLabel
	}
	return r.label
}

// Value implements driver.Valuer.
func (r Region) Value() (driver.Value, error) {
	if !r.set {
		return nil, nil
	}
	return r.label, nil
}

// Scan implements sql.Scanner.
func (r *Region) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*r = National()
	case string:
		*r = NewRegion(v)
	case []byte:
		*r = NewRegion(string(v))
	default:
		return fmt.Errorf("region: cannot scan %T", src)
	}
	return nil
}

func (r Region) MarshalJSON() ([]byte, error) {
	if !r.set {
		return []byte("null"), nil
	}
	return json.Marshal(r.label)
}

func (r *Region) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = National()
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("region: %w", err)
	}
	*r = NewRegion(s)
	return nil
}
