package formatting

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fazecat/breakoutscan/Internal/types"
)

// Separator returns a line separator of given width
func Separator(width int) string {
	return strings.Repeat("=", width)
}

// Badge renders a rule outcome.
func Badge(passed bool) string {
	if passed {
		return "✅"
	}
	return "❌"
}

// RuleLabel turns "rule_1_breakout" into "1" and "rule_3_hold_above" into
// "3 hold_above" when long is set.
func RuleLabel(name string, long bool) string {
	parts := strings.SplitN(name, "_", 3)
	if len(parts) < 3 {
		return name
	}
	if long {
		return parts[1] + " " + parts[2]
	}
	return parts[1]
}

// RuleBadges renders all eight rules as number=badge pairs, space separated.
func RuleBadges(r types.Rules) string {
	flags := r.All()
	parts := make([]string, len(flags))
	for i, passed := range flags {
		parts[i] = RuleLabel(types.RuleNames[i], false) + "=" + Badge(passed)
	}
	return strings.Join(parts, " ")
}

// Percent formats a fraction as a percentage rounded half away from zero,
// e.g. 0.01234 with two places is "1.23%".
func Percent(fraction float64, places int32) string {
	return decimal.NewFromFloat(fraction).Shift(2).StringFixed(places) + "%"
}

// Decimal formats v rounded to places.
func Decimal(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}

// ParseDate parses a date string in multiple formats
func ParseDate(dateStr string) (time.Time, error) {
	formats := []string{
		"2006-01-02", // YYYY-MM-DD (standard)
		"02/01/2006", // DD/MM/YYYY
		"02.01.2006", // DD.MM.YYYY
		"20060102",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, dateStr); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognised date %q", dateStr)
}
