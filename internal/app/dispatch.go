package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quotebot/internal/poster"
	"quotebot/internal/task/engine"
	logx "quotebot/pkg/logx"
)

// TaskPostQuote is the engine task name shared by every posting trigger.
// Cron schedules and manual dispatches all funnel through it, so its
// overlap gate guarantees a single posting cycle at a time.
const TaskPostQuote = "post_quote"

// postJob returns the engine run callback for one trigger label.
func (a *App) postJob(trigger string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return a.runPost(ctx, trigger)
	}
}

// runPost executes one posting cycle. Benign outcomes are normalized to nil
// so the engine's failure accounting (history, breaker) only sees real errors.
func (a *App) runPost(ctx context.Context, trigger string) error {
	err := a.poster.RunOnce(ctx, trigger)
	if errors.Is(err, poster.ErrDuplicate) {
		return nil
	}
	return err
}

// TriggerPost dispatches one posting cycle through the engine, using the
// same task (and overlap gate) as the cron schedules. trigger labels the
// run in logs and the ledger ("signal", "manual").
func (a *App) TriggerPost(ctx context.Context, trigger string) error {
	if a.engine == nil {
		return errors.New("app: engine not initialized")
	}
	return a.engine.Submit(ctx, engine.Task{
		Name:    TaskPostQuote,
		Trigger: trigger,
		Run:     a.postJob(trigger),
		Opt:     engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning},
	})
}

// signalLoop turns SIGUSR1 into an on-demand posting cycle. Dispatch
// outcomes are logged here; the cycle itself reports through the poster.
func (a *App) signalLoop(ctx context.Context) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			a.log.Info("manual post requested", logx.String("trigger", "signal"))
			err := a.TriggerPost(ctx, "signal")
			switch {
			case err == nil:
			case errors.Is(err, engine.ErrOverlapSkip):
				a.log.Warn("manual post skipped: a posting cycle is already running")
			case errors.Is(err, engine.ErrBreakerOpen):
				a.log.Warn("manual post skipped: posting breaker open")
			case errors.Is(err, context.Canceled):
				return
			default:
				a.log.Error("manual post dispatch failed", logx.Any("err", err))
			}
		}
	}
}

// RunOnce executes a single posting cycle synchronously, without starting
// the scheduler or engine. Used by the -once flag.
func (a *App) RunOnce(ctx context.Context) error {
	if a.verify {
		vctx, cancel := context.WithTimeout(ctx, verifyTimeout)
		err := a.poster.Verify(vctx)
		cancel()
		if err != nil {
			return err
		}
	}

	a.poster.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.poster.Stop(stopCtx)
		cancel()
	}()

	err := a.poster.RunOnce(ctx, "manual")
	if errors.Is(err, poster.ErrDuplicate) {
		a.log.Warn("duplicate post suppressed; nothing sent")
		return nil
	}
	return err
}
