package shipper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/machineguard/machineguard/monitor/internal/backoff"
	"github.com/machineguard/machineguard/pkg/types"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	sendTimeout       = 10 * time.Second
	defaultBufferSize = 1000
)

// Sender delivers one report to a remote system.
type Sender interface {
	Send(ctx context.Context, r *types.HealthReport) error
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The Shipper drops the report.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Shipper buffers reports and forwards them to a Sender.
// Put is non-blocking; Run must be called in a goroutine to drain the buffer.
type Shipper struct {
	name   string
	sender Sender
	buf    chan *types.HealthReport
	bo     *backoff.Backoff
	sleep  func(ctx context.Context, d time.Duration) bool // injectable for tests
}

// New creates a Shipper named name (used in log output) that forwards to s.
func New(name string, s Sender, bufferSize int) *Shipper {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Shipper{
		name:   name,
		sender: s,
		buf:    make(chan *types.HealthReport, bufferSize),
		bo:     backoff.New(backoffInitial, backoffMax),
		sleep:  backoff.Sleep,
	}
}

// Put enqueues r. If the buffer is full the oldest report is evicted.
// It never returns an error; delivery failures are logged by Run.
func (s *Shipper) Put(_ context.Context, r *types.HealthReport) error {
	select {
	case s.buf <- r:
	default:
		select {
		case old := <-s.buf:
			slog.Warn("shipper: buffer full, evicted oldest report",
				"sink", s.name, "device", old.DeviceID, "buffer_cap", cap(s.buf))
		default:
		}
		select {
		case s.buf <- r:
		default:
		}
	}
	return nil
}

// Len returns the number of queued reports.
func (s *Shipper) Len() int { return len(s.buf) }

// Run drains the buffer until ctx is cancelled. A report that fails with a
// transient error is retried, after a backoff delay, before any later report.
func (s *Shipper) Run(ctx context.Context) {
	var pending *types.HealthReport
	for {
		if pending == nil {
			select {
			case <-ctx.Done():
				return
			case pending = <-s.buf:
			}
		}

		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := s.sender.Send(sendCtx, pending)
		cancel()

		switch {
		case err == nil:
			slog.Debug("shipper: report delivered", "sink", s.name, "device", pending.DeviceID)
			s.bo.Reset()
			pending = nil
		case IsPermanent(err):
			slog.Error("shipper: permanent send error, discarding report",
				"sink", s.name, "device", pending.DeviceID, "err", err)
			pending = nil
		default:
			wait := s.bo.Next()
			slog.Warn("shipper: send failed, will retry",
				"sink", s.name, "device", pending.DeviceID, "err", err, "retry_in", wait)
			if !s.sleep(ctx, wait) {
				return
			}
		}
	}
}
