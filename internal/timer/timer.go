// Package timer provides the single shared timer wheel available to modules
// for delayed and repeated callbacks, so modules do not spawn their own
// timing goroutines.
package timer

import (
	"fmt"
	"strings"
	"time"

	gocron "github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
)

// Wheel wraps one gocron scheduler shared by all modules of a workload run.
type Wheel struct {
	scheduler gocron.Scheduler
}

func New() (*Wheel, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing scheduler: %w", err)
	}
	s.Start()
	return &Wheel{scheduler: s}, nil
}

// After schedules fn to run once after d.
func (w *Wheel) After(d time.Duration, fn func()) error {
	_, err := w.scheduler.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(time.Now().Add(d))),
		gocron.NewTask(fn),
	)
	if err != nil {
		return fmt.Errorf("scheduling delayed callback: %w", err)
	}
	return nil
}

// Every schedules fn at a fixed interval and returns a stop function.
func (w *Wheel) Every(d time.Duration, fn func()) (func(), error) {
	job, err := w.scheduler.NewJob(
		gocron.DurationJob(d),
		gocron.NewTask(fn),
	)
	if err != nil {
		return nil, fmt.Errorf("scheduling repeated callback: %w", err)
	}
	return func() { _ = w.scheduler.RemoveJob(job.ID()) }, nil
}

// Cron schedules fn on a 5-field cron expression and returns a stop function.
func (w *Wheel) Cron(expr string, fn func()) (func(), error) {
	if err := ParseCron(expr); err != nil {
		return nil, fmt.Errorf("parsing cron expression: %w", err)
	}
	job, err := w.scheduler.NewJob(
		gocron.CronJob(expr, false),
		gocron.NewTask(fn),
	)
	if err != nil {
		return nil, fmt.Errorf("scheduling cron callback: %w", err)
	}
	return func() { _ = w.scheduler.RemoveJob(job.ID()) }, nil
}

// Shutdown stops the wheel; pending callbacks are dropped.
func (w *Wheel) Shutdown() error {
	return w.scheduler.Shutdown()
}

// ParseCron parses a cron expression that have 5 fields
// return error if it fails
func ParseCron(expr string) error {
	e := strings.TrimSpace(expr)
	if e == "" {
		return fmt.Errorf("empty cron expression")
	}

	// Macros / @every handled by ParseStandard (it also supports plain 5-field specs).
	if strings.HasPrefix(e, "@") {
		_, err := cron.ParseStandard(e)
		return err
	}

	parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	// len == 5
	_, err := parser5.Parse(e)
	return err
}
