package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDelay(t *testing.T) {
	tests := []struct {
		value    string
		expected time.Duration
	}{
		{"7d", 7 * 24 * time.Hour},
		{"12h", 12 * time.Hour},
		{"30m", 30 * time.Minute},
		{" 1d ", 24 * time.Hour},
	}

	for _, tt := range tests {
		duration, err := ParseDelay(tt.value)
		require.NoError(t, err, tt.value)
		assert.Equal(t, tt.expected, duration, tt.value)
	}
}

func TestParseDelay_Invalid(t *testing.T) {
	for _, value := range []string{"", "abc", "0d", "-1d", "7", "d", "7w", "1.5h", "7D", "99999999999999999999d", "9999999999999d"} {
		_, err := ParseDelay(value)
		assert.ErrorIs(t, err, ErrInvalidDelay, value)
	}
}

func TestParseDate(t *testing.T) {
	expected := time.Date(2025, 5, 1, 10, 30, 0, 0, time.UTC)

	for _, value := range []string{"2025-05-01T10:30:00Z", "2025-05-01T12:30:00+02:00", "2025-05-01T10:30:00", "2025-05-01T10:30", "2025-05-01 10:30"} {
		parsed, err := ParseDate(value)
		require.NoError(t, err, value)
		assert.True(t, expected.Equal(parsed), value)
	}

	day, err := ParseDate("2025-05-01")
	require.NoError(t, err)
	assert.Equal(t, 1, day.Day())

	_, err = ParseDate("")
	require.ErrorIs(t, err, ErrInvalidDate)

	_, err = ParseDate("next tuesday")
	require.ErrorIs(t, err, ErrInvalidDate)
}

func TestParseCronExpression(t *testing.T) {
	for _, expression := range []string{"0 9 * * 1", "0 0 9 * * 1", "@daily", "@every 1h"} {
		schedule, err := ParseCronExpression(expression)
		require.NoError(t, err, expression)
		assert.NotNil(t, schedule)
	}

	for _, expression := range []string{"", "every day", "61 * * * *"} {
		_, err := ParseCronExpression(expression)
		assert.ErrorIs(t, err, ErrInvalidCronExpression, expression)
	}
}
