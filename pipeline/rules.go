package pipeline

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-auction-deals/models"
	"github.com/aluiziolira/go-auction-deals/parser"
)

// Rule extracts one candidate value from a record. It reports false when the
// record does not carry a usable value for it.
type Rule[T any] func(models.RawRecord) (T, bool)

// Field is an ordered list of rules with a default used when none apply.
type Field[T any] struct {
	Name    string
	Rules   []Rule[T]
	Default T
}

// Lookup applies the rules in order and returns the first usable value.
func (f Field[T]) Lookup(rec models.RawRecord) (T, bool) {
	for _, rule := range f.Rules {
		if value, ok := rule(rec); ok {
			return value, true
		}
	}
	var zero T
	return zero, false
}

// Resolve is Lookup falling back to the field default.
func (f Field[T]) Resolve(rec models.RawRecord) T {
	if value, ok := f.Lookup(rec); ok {
		return value
	}
	return f.Default
}

// Has reports whether any rule yields a value.
func (f Field[T]) Has(rec models.RawRecord) bool {
	_, ok := f.Lookup(rec)
	return ok
}

func textAt(key string) Rule[string] {
	return func(rec models.RawRecord) (string, bool) {
		switch v := rec[key].(type) {
		case string:
			v = parser.NormalizeText(v)
			return v, v != ""
		case json.Number:
			return v.String(), true
		case float64, int, int64:
			return strings.TrimSpace(toString(v)), true
		}
		return "", false
	}
}

func textsAt(keys ...string) []Rule[string] {
	rules := make([]Rule[string], 0, len(keys))
	for _, key := range keys {
		rules = append(rules, textAt(key))
	}
	return rules
}

func dollarsAt(key string) Rule[int] {
	return func(rec models.RawRecord) (int, bool) {
		if f, ok := number(rec[key]); ok {
			return parser.DollarsFromFloat(f)
		}
		if s, ok := rec[key].(string); ok {
			return parser.ParseDollars(s)
		}
		return 0, false
	}
}

func dollarsIn(keys ...string) []Rule[int] {
	rules := make([]Rule[int], 0, len(keys))
	for _, key := range keys {
		rules = append(rules, dollarsAt(key))
	}
	return rules
}

func countAt(key string) Rule[int] {
	return func(rec models.RawRecord) (int, bool) {
		if f, ok := number(rec[key]); ok {
			if f < 0 || f > math.MaxInt32 || math.IsNaN(f) {
				return 0, false
			}
			return int(f), true
		}
		if s, ok := rec[key].(string); ok {
			return parser.ParseCount(s)
		}
		return 0, false
	}
}

func countsIn(keys ...string) []Rule[int] {
	rules := make([]Rule[int], 0, len(keys))
	for _, key := range keys {
		rules = append(rules, countAt(key))
	}
	return rules
}

func yearAt(key string) Rule[int] {
	count := countAt(key)
	return func(rec models.RawRecord) (int, bool) {
		year, ok := count(rec)
		if !ok || year < 1885 || year > 2100 {
			return 0, false
		}
		return year, true
	}
}

func flagAt(key string) Rule[bool] {
	return func(rec models.RawRecord) (bool, bool) {
		switch v := rec[key].(type) {
		case bool:
			return v, true
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return false, false
			}
			return b, true
		}
		return false, false
	}
}

func negatedFlagAt(key string) Rule[bool] {
	flag := flagAt(key)
	return func(rec models.RawRecord) (bool, bool) {
		v, ok := flag(rec)
		return !v, ok
	}
}

// mentionsNoReserve matches badge or title text such as "No Reserve".
func mentionsNoReserve(key string) Rule[bool] {
	return func(rec models.RawRecord) (bool, bool) {
		s, ok := rec[key].(string)
		if !ok {
			return false, false
		}
		if strings.Contains(strings.ToLower(s), "no reserve") {
			return true, true
		}
		return false, false
	}
}

func timeAt(key string) Rule[time.Time] {
	return func(rec models.RawRecord) (time.Time, bool) {
		switch v := rec[key].(type) {
		case time.Time:
			return v, !v.IsZero()
		case string:
			return parseTimestamp(strings.TrimSpace(v))
		}
		if f, ok := number(rec[key]); ok {
			return unixTime(f)
		}
		return time.Time{}, false
	}
}

func timesIn(keys ...string) []Rule[time.Time] {
	rules := make([]Rule[time.Time], 0, len(keys))
	for _, key := range keys {
		rules = append(rules, timeAt(key))
	}
	return rules
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z0700",
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return unixTime(f)
	}
	return time.Time{}, false
}

// unixTime accepts seconds or milliseconds since the epoch.
func unixTime(f float64) (time.Time, bool) {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	if f > 1e12 {
		return time.UnixMilli(int64(f)), true
	}
	return time.Unix(int64(f), 0), true
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toString(v any) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	}
	return ""
}
