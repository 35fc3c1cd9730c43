package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts 5-field and 6-field (with seconds) specs plus descriptors.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Schedule is either a cron expression or, when Every is set, a fixed interval.
type Schedule struct {
	Cron  string
	Every time.Duration
}

func (s Schedule) IsInterval() bool { return s.Every > 0 }

// spec is the form registered with cron.
func (s Schedule) spec() string {
	if s.IsInterval() {
		return "@every " + s.Every.String()
	}
	return s.Cron
}

// ParseSchedule accepts
//   - cron expressions and descriptors: "0 3 * * *", "@daily", "@every 6h"
//   - intervals as Go durations ("55m", "2h30m") or HH:MM ("02:30")
//   - an explicit "cron:", "interval:" or "every:" prefix
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, errors.New("schedule required")
	}
	if head, rest, ok := strings.Cut(s, ":"); ok {
		switch strings.ToLower(head) {
		case "cron":
			return parseCron(strings.TrimSpace(rest))
		case "interval", "every":
			return parseInterval(strings.TrimSpace(rest))
		}
	}
	if s[0] == '@' || strings.ContainsAny(s, " \t") {
		return parseCron(s)
	}
	sch, err := parseInterval(s)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid schedule %q: want a cron expression, HH:MM or a duration like 55m", raw)
	}
	return sch, nil
}

// Validate reports whether raw is a usable schedule.
func Validate(raw string) error {
	_, err := ParseSchedule(raw)
	return err
}

func parseCron(expr string) (Schedule, error) {
	if expr == "" {
		return Schedule{}, errors.New("cron expression required")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return Schedule{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Schedule{Cron: expr}, nil
}

func parseInterval(v string) (Schedule, error) {
	d, err := intervalDuration(v)
	if err != nil {
		return Schedule{}, err
	}
	if d <= 0 {
		return Schedule{}, fmt.Errorf("interval %q must be positive", v)
	}
	return Schedule{Every: d}, nil
}

func intervalDuration(v string) (time.Duration, error) {
	hh, mm, ok := strings.Cut(v, ":")
	if !ok {
		return time.ParseDuration(v)
	}
	h, herr := strconv.Atoi(hh)
	m, merr := strconv.Atoi(mm)
	if herr != nil || merr != nil || h < 0 || len(mm) != 2 || m > 59 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}
