package models

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrInvalidDelay is returned when a delay value is not <positive integer><d|h|m>.
	ErrInvalidDelay = errors.New("invalid delay value")
	// ErrInvalidDate is returned when a fixed-time date is not ISO-8601.
	ErrInvalidDate = errors.New("invalid fixed time date")
	// ErrInvalidCronExpression is returned when a cron expression does not parse.
	ErrInvalidCronExpression = errors.New("invalid cron expression")
)

var delayPattern = regexp.MustCompile(`^(\d+)([dhm])$`)

var delayUnits = map[string]time.Duration{
	"d": 24 * time.Hour,
	"h": time.Hour,
	"m": time.Minute,
}

// dateLayouts are tried in order; forms emit dates without seconds or zone.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.DateOnly,
}

// Accepts the standard 5 fields, an optional leading seconds field and descriptors.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseDelay parses a delay value such as "7d", "12h" or "30m".
func ParseDelay(value string) (time.Duration, error) {
	matches := delayPattern.FindStringSubmatch(strings.TrimSpace(value))
	if matches == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDelay, value)
	}

	amount, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil || amount <= 0 {
		return 0, fmt.Errorf("%w: %q must be positive", ErrInvalidDelay, value)
	}

	unit := delayUnits[matches[2]]
	if amount > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("%w: %q is too large", ErrInvalidDelay, value)
	}

	return time.Duration(amount) * unit, nil
}

// ParseDate parses a fixed-time date. Dates without a zone are read as UTC.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidDate)
	}

	for _, layout := range dateLayouts {
		parsed, err := time.Parse(layout, value)
		if err == nil {
			return parsed, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
}

// ParseCronExpression checks the syntax of a cron expression. The schedule
// is returned for callers that evaluate it; the core itself never does.
func ParseCronExpression(expression string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(strings.TrimSpace(expression))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCronExpression, err)
	}

	return schedule, nil
}
