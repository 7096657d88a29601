package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-auction-deals/models"
)

// ClosingSoonHours is reported for records that say they are ending without a duration.
const ClosingSoonHours = 0.5

var (
	dayPattern     = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:days?|d)\b`)
	hourPattern    = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:hours?|hrs?)\b`)
	compactPattern = regexp.MustCompile(`(?i)(\d+)\s*h\b(?:\s*(\d+)\s*m\b)?`)
	minutePattern  = regexp.MustCompile(`(?i)(\d+)\s*(?:minutes?|mins?|m)\b`)
	clockPattern   = regexp.MustCompile(`(\d{1,3}):(\d{2}):(\d{2})`)
	soonPattern    = regexp.MustCompile(`(?i)\b(?:ending|soon)\b`)
)

// ParseTimeLeft converts free-text time remaining ("2 days", "3h 20m",
// "45 minutes", "01:12:09") into hours. Patterns are tried as day, hour,
// "Hh Mm", minutes, then HH:MM:SS. Text that only says the auction is ending
// maps to ClosingSoonHours; anything else maps to models.DefaultHoursLeft.
func ParseTimeLeft(text string) float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.DefaultHoursLeft
	}

	if m := dayPattern.FindStringSubmatch(text); m != nil {
		hours := atof(m[1]) * 24
		if extra, ok := hoursComponent(text); ok {
			hours += extra
		}
		return hours
	}
	if hours, ok := hoursComponent(text); ok {
		return hours
	}
	if m := minutePattern.FindStringSubmatch(text); m != nil {
		return atof(m[1]) / 60
	}
	if m := clockPattern.FindStringSubmatch(text); m != nil {
		return atof(m[1]) + atof(m[2])/60 + atof(m[3])/3600
	}
	if soonPattern.MatchString(text) {
		return ClosingSoonHours
	}
	return models.DefaultHoursLeft
}

func hoursComponent(text string) (float64, bool) {
	if m := hourPattern.FindStringSubmatch(text); m != nil {
		hours := atof(m[1])
		if mm := minutePattern.FindStringSubmatch(text[strings.Index(text, m[0])+len(m[0]):]); mm != nil {
			hours += atof(mm[1]) / 60
		}
		return hours, true
	}
	if m := compactPattern.FindStringSubmatch(text); m != nil {
		hours := atof(m[1])
		if m[2] != "" {
			hours += atof(m[2]) / 60
		}
		return hours, true
	}
	return 0, false
}

func atof(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
