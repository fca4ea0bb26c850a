package connect

import (
	"context"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/directory/internal/logger"
)

// Options defines how long and how often a backend is pinged before giving up.
type Options struct {
	Name          string        // backend name used in logs (ex: "redis", "postgres")
	Target        string        // address shown in logs, never a DSN with credentials
	Timeout       time.Duration // total time allowed for connection attempts (ex: 30s)
	RetryInterval time.Duration // initial wait between retries (ex: 2s, grows exponentially)
	MaxWait       time.Duration // max wait between retries (ex: 10s)
	PingTimeout   time.Duration // timeout for each ping attempt (ex: 2s)
	WarnThreshold int           // warn after this many attempts
}

// PingFunc checks a backend once.
type PingFunc func(ctx context.Context) error

// connectionLogger handles all connection logging.
type connectionLogger struct {
	logger logger.Logger
	name   string
	target string
}

func (cl *connectionLogger) logConnectionStart(timeout time.Duration) {
	cl.logger.Info("connecting to "+cl.name,
		logger.String("addr", cl.target),
		logger.Duration("timeout", timeout))
}

func (cl *connectionLogger) logSuccess(attempts int, elapsed time.Duration) {
	if attempts > 1 {
		cl.logger.Warn("connected to "+cl.name+" after retry",
			logger.String("addr", cl.target),
			logger.Int("attempts", attempts),
			logger.Duration("elapsed", elapsed))
	} else {
		cl.logger.Info("connected to "+cl.name,
			logger.String("addr", cl.target))
	}
}

func (cl *connectionLogger) logTimeout(attempts int, timeout time.Duration, err error) {
	cl.logger.Error(cl.name+" unavailable - failed to connect after timeout",
		logger.String("addr", cl.target),
		logger.Int("attempts", attempts),
		logger.Duration("timeout", timeout),
		logger.Error(err))
}

func (cl *connectionLogger) logRetry(attempt int, remaining, nextRetry time.Duration, warnThreshold int, err error) {
	switch {
	case remaining < 10*time.Second:
		cl.logger.Error(cl.name+" still down - retrying but timeout approaching",
			logger.String("addr", cl.target),
			logger.Int("attempt", attempt),
			logger.Duration("remaining", remaining),
			logger.Duration("next_retry_in", nextRetry),
			logger.Error(err))
	case attempt <= warnThreshold:
		cl.logger.Warn(cl.name+" connection failed, retrying",
			logger.String("addr", cl.target),
			logger.Int("attempt", attempt),
			logger.Duration("next_retry_in", nextRetry),
			logger.Error(err))
	default:
		cl.logger.Error(cl.name+" still unavailable - connection attempts failing",
			logger.String("addr", cl.target),
			logger.Int("attempt", attempt),
			logger.Duration("next_retry_in", nextRetry),
			logger.Error(err))
	}
}

// Validate ensures all retry settings are usable.
func (o Options) Validate() error {
	if o.Timeout <= 0 {
		return fmt.Errorf("connect timeout must be > 0, got %v", o.Timeout)
	}
	if o.RetryInterval <= 0 {
		return fmt.Errorf("retry interval must be > 0, got %v", o.RetryInterval)
	}
	if o.MaxWait <= 0 {
		return fmt.Errorf("max wait must be > 0, got %v", o.MaxWait)
	}
	if o.PingTimeout <= 0 {
		return fmt.Errorf("ping timeout must be > 0, got %v", o.PingTimeout)
	}
	if o.WarnThreshold < 0 {
		return fmt.Errorf("warn threshold must be >= 0, got %d", o.WarnThreshold)
	}
	return nil
}

// WithRetry pings until the backend answers, backing off exponentially up to
// MaxWait, and fails once Timeout is spent.
func WithRetry(ctx context.Context, ping PingFunc, opts Options, log logger.Logger) error {
	if err := opts.Validate(); err != nil {
		log.Error("invalid connection settings", logger.String("backend", opts.Name), logger.Error(err))
		return err
	}
	cl := &connectionLogger{logger: log, name: opts.Name, target: opts.Target}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	cl.logConnectionStart(opts.Timeout)
	start := time.Now()
	attempt := 0
	wait := opts.RetryInterval

	for {
		attempt++

		pingCtx, pingCancel := context.WithTimeout(ctx, opts.PingTimeout)
		err := ping(pingCtx)
		pingCancel()

		if err == nil {
			cl.logSuccess(attempt, time.Since(start))
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			cl.logTimeout(attempt, opts.Timeout, err)
			return fmt.Errorf("%s unavailable at %s after %d attempts (timeout: %v): %w",
				opts.Name, opts.Target, attempt, opts.Timeout, err)

		case <-timer.C:
			cl.logRetry(attempt, timeLeft(ctx), wait, opts.WarnThreshold, err)
			wait = min(wait*2, opts.MaxWait)
		}
	}
}

// timeLeft returns the remaining time before context deadline.
func timeLeft(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	return time.Until(deadline)
}
