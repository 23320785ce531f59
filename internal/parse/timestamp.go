package parse

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// values above this are taken to be epoch milliseconds
const millisThreshold = 1e11

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
}

// NormalizeTimestamp converts a decoded JSON value to epoch seconds.
// Accepted inputs are numbers in seconds or milliseconds, numeric strings and
// ISO-8601 strings; strings without a zone are read in loc.
func NormalizeTimestamp(v any, loc *time.Location) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return fromNumber(t)
	case int64:
		return fromNumber(float64(t))
	case int:
		return fromNumber(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return fromNumber(f)
	case string:
		return ParseTimestampString(t, loc)
	}
	return 0, false
}

func ParseTimestampString(s string, loc *time.Location) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromNumber(f)
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.Unix(), true
		}
	}
	return 0, false
}

func fromNumber(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	if f > millisThreshold {
		f /= 1000
	}
	return int64(f), true
}
