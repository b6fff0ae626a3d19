// Package events records audit events to an external sink. Recording is
// best-effort: callers never see a sink failure.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Severity string

const (
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

const (
	TypeUserRegistered = "user_registered"
	TypeUserLogin      = "user_login"
	TypeUserLogout     = "user_logout"
	TypeTokenRefreshed = "token_refreshed"
)

// Event is a single audit record.
type Event struct {
	ServiceName string    `json:"service_name" bson:"service_name"`
	EventType   string    `json:"event_type"   bson:"event_type"`
	UserID      string    `json:"user_id"      bson:"user_id"`
	Description string    `json:"description"  bson:"description"`
	Severity    Severity  `json:"severity"     bson:"severity"`
	Timestamp   time.Time `json:"timestamp"    bson:"timestamp"`
}

type Recorder interface {
	Record(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

// ZapRecorder writes events as structured log lines.
type ZapRecorder struct{ log *zap.Logger }

func NewZapRecorder(log *zap.Logger) *ZapRecorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZapRecorder{log: log.Named("Events")}
}

func (r *ZapRecorder) Record(_ context.Context, e Event) error {
	r.log.Info("event",
		zap.String("service", e.ServiceName),
		zap.String("type", e.EventType),
		zap.String("user_id", e.UserID),
		zap.String("description", e.Description),
		zap.String("severity", string(e.Severity)),
		zap.Time("timestamp", e.Timestamp),
	)
	return nil
}

// Multi fans an event out to every recorder and joins their errors.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, e Event) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

const fireTimeout = 2 * time.Second

// Dispatcher records events off the caller's goroutine so a slow sink
// never holds up a request. Errors and panics from the recorder are logged
// and dropped.
type Dispatcher struct {
	r   Recorder
	log *zap.Logger
	wg  sync.WaitGroup
}

// NewDispatcher wraps r. A nil r drops every event.
func NewDispatcher(r Recorder, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{r: r, log: log}
}

// Fire fills in defaults and records e in the background. The caller's
// cancellation is ignored; each delivery is bounded by its own timeout.
func (d *Dispatcher) Fire(ctx context.Context, e Event) {
	if d == nil || d.r == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(ctx, e)
	}()
}

// Wait blocks until every fired event has been delivered or dropped.
func (d *Dispatcher) Wait() {
	if d != nil {
		d.wg.Wait()
	}
}

func (d *Dispatcher) deliver(ctx context.Context, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Warn("event recorder panicked", zap.String("type", e.EventType), zap.Any("panic", rec))
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, fireTimeout)
	defer cancel()
	if err := d.r.Record(ctx, e); err != nil {
		d.log.Warn("record event failed", zap.String("type", e.EventType), zap.Error(err))
	}
}
