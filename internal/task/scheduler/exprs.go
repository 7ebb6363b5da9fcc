package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Cron expressions are standard five-field (minute hour dom month dow),
// plus @descriptors like "@daily" and "@every 4h". No seconds field.
func newParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// DefaultCronExprs returns the built-in posting schedule: six firings per
// day, evaluated in the scheduler timezone (UTC unless configured).
func DefaultCronExprs() []string {
	return []string{
		"0 20 * * *",
		"30 21 * * *",
		"30 1 * * *",
		"30 3 * * *",
		"30 10 * * *",
		"30 18 * * *",
	}
}

// ValidateExprs parses each expression and reports the first failure.
// Used by config validation so a bad cron list never reaches a running
// scheduler.
func ValidateExprs(exprs []string) error {
	p := newParser()
	for i, raw := range exprs {
		e := strings.TrimSpace(raw)
		if e == "" {
			return fmt.Errorf("cron expression %d is empty", i+1)
		}
		if _, err := p.Parse(e); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", e, err)
		}
	}
	return nil
}

// NextRuns computes the next n fire times of expr from the given instant.
// A nil location means UTC.
func NextRuns(expr string, loc *time.Location, from time.Time, n int) ([]time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	sched, err := newParser().Parse(strings.TrimSpace(expr))
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	t := from.In(loc)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}

var reDailyExpr = regexp.MustCompile(`^(\d{1,2}) (\d{1,2}) \* \* \*$`)

// ScheduleName derives a stable, log-friendly schedule name from a job name
// and its cron expression. Daily at-time expressions become "job@HH:MM";
// anything else keeps the expression with spaces flattened.
func ScheduleName(job, expr string) string {
	e := strings.Join(strings.Fields(expr), " ")
	if m := reDailyExpr.FindStringSubmatch(e); m != nil {
		minute, _ := strconv.Atoi(m[1])
		hour, _ := strconv.Atoi(m[2])
		if minute <= 59 && hour <= 23 {
			return fmt.Sprintf("%s@%02d:%02d", job, hour, minute)
		}
	}
	e = strings.TrimPrefix(e, "@")
	return job + "@" + strings.ReplaceAll(e, " ", "_")
}
