package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// stations are not consistent about zone designators and fractions
var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05Z0700",
}

// DateTime wraps a time.Time struct, allowing for improved dateTime JSON compatibility.
type DateTime struct {
	time.Time
}

// NewDateTime Creates a new DateTime struct, embedding a time.Time struct.
func NewDateTime(time time.Time) *DateTime {
	return &DateTime{Time: time}
}

func (dt *DateTime) UnmarshalJSON(data []byte) error {
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	value = strings.TrimSpace(value)
	if value == "" {
		dt.Time = time.Time{}
		return nil
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			dt.Time = t
			return nil
		}
	}
	return fmt.Errorf("invalid date time: %s", value)
}

func (dt DateTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(dt.UTC().Format(time.RFC3339))
}

// TimeOr returns the wrapped time, or fallback when the value is absent
func (dt *DateTime) TimeOr(fallback time.Time) time.Time {
	if dt == nil || dt.IsZero() {
		return fallback
	}
	return dt.Time
}
