package reminder

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTime is returned for input that is not a 24-hour H:MM or HH:MM time.
var ErrInvalidTime = errors.New("reminder: invalid time, expected HH:MM")

var clockRe = regexp.MustCompile(`^([01]?[0-9]|2[0-3]):([0-5][0-9])$`)

// ClockTime is a wall-clock time of day without a date.
type ClockTime struct {
	Hour   int
	Minute int
}

// String renders the time as zero-padded HH:MM.
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// ParseClock parses a 24-hour time such as "09:15" or "9:15".
func ParseClock(input string) (ClockTime, error) {
	m := clockRe.FindStringSubmatch(strings.TrimSpace(input))
	if m == nil {
		return ClockTime{}, ErrInvalidTime
	}
	h, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	return ClockTime{Hour: h, Minute: minute}, nil
}

// NextOccurrence combines now's date with ct in now's location. An instant
// strictly earlier than now is pushed exactly 24 hours forward.
func NextOccurrence(now time.Time, ct ClockTime) time.Time {
	at := time.Date(now.Year(), now.Month(), now.Day(), ct.Hour, ct.Minute, 0, 0, now.Location())
	if at.Before(now) {
		at = at.Add(24 * time.Hour)
	}
	return at
}
