// Package parser holds the pure text helpers used to normalize auction records.
// Every function is total: malformed input maps to a documented default.
package parser

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/aluiziolira/go-auction-deals/models"
)

var (
	titlePattern = regexp.MustCompile(`^(\d{4})\s+(\S+)\s+(.+)$`)
	trimPattern  = regexp.MustCompile(`^(.*?)\s*\(([^()]*)\)\s*$`)
	moneyPattern = regexp.MustCompile(`(\d[\d,]*(?:\.\d+)?)\s*([kKmM])?\b`)
	countPattern = regexp.MustCompile(`\d[\d,]*`)
)

// ParseTitle splits "<year> <make> <model...>[ (<trim>)]" into a Vehicle.
// Titles that do not match return the whole input as the model.
func ParseTitle(title string) models.Vehicle {
	m := titlePattern.FindStringSubmatch(strings.TrimSpace(title))
	if m == nil {
		return models.Vehicle{Model: title}
	}

	year, err := strconv.Atoi(m[1])
	if err != nil {
		return models.Vehicle{Model: title}
	}

	rest := m[3]
	trim := ""
	if t := trimPattern.FindStringSubmatch(rest); t != nil {
		rest = t[1]
		trim = strings.TrimSpace(t[2])
	}

	words := strings.Fields(rest)
	model := ""
	if len(words) > 0 {
		model = words[0]
		if trim == "" {
			trim = strings.Join(words[1:], " ")
		}
	}

	return models.Vehicle{
		Year:  year,
		Make:  m[2],
		Model: model,
		Trim:  trim,
	}
}

// ParseDollars extracts a whole-dollar amount from text such as "$12,500",
// "Bid: 8.2k" or "USD 1.1M". Fractions are rounded to the nearest dollar.
func ParseDollars(text string) (int, bool) {
	m := moneyPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToLower(m[2]) {
	case "k":
		value *= 1_000
	case "m":
		value *= 1_000_000
	}
	return DollarsFromFloat(value)
}

// DollarsFromFloat rounds a numeric amount to whole dollars, rejecting
// negative and non-finite values.
func DollarsFromFloat(value float64) (int, bool) {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 || value > math.MaxInt32 {
		return 0, false
	}
	return int(math.Round(value)), true
}

// ParseCount extracts the first non-negative integer from text like "23 bids".
func ParseCount(text string) (int, bool) {
	m := countPattern.FindString(text)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return 0, false
	}
	return n, true
}

// NormalizeText trims and collapses internal whitespace.
func NormalizeText(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
