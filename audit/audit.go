// Package audit records session lifecycle events (login, logout, renewal,
// forced logout, denied navigation) through buffered asynchronous handlers.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Actions emitted by the session and guard layers.
const (
	ActionLogin        = "login"
	ActionLogout       = "logout"
	ActionRegister     = "register"
	ActionRenewal      = "token_renewal"
	ActionForcedLogout = "forced_logout"
	ActionDeposit      = "deposit"
	ActionNavigation   = "navigation"
)

// Results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultDenied  = "denied"
)

// Event is a single audit record. Tokens are never recorded.
type Event struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	ActivationID string    `json:"activation_id,omitempty"`
	UserID       int64     `json:"user_id,omitempty"`
	Email        string    `json:"email,omitempty"`
	Action       string    `json:"action"`
	Resource     string    `json:"resource,omitempty"`
	Result       string    `json:"result"`
	Details      string    `json:"details,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Handler processes audit events. Implementations should not block.
type Handler func(event Event)

// Logger emits audit events to configured handlers.
// A nil *Logger is valid and drops everything.
type Logger struct {
	handlers  []Handler
	queue     chan Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Option configures Logger behavior.
type Option func(*Logger)

// WithStdoutHandler adds a handler that writes JSON events to stdout.
func WithStdoutHandler() Option {
	return func(l *Logger) {
		l.AddHandler(func(e Event) {
			data, _ := json.Marshal(e)
			fmt.Fprintf(os.Stdout, "%s\n", data)
		})
	}
}

// WithSlogHandler adds a handler that writes events through a structured logger.
func WithSlogHandler(log *slog.Logger) Option {
	return func(l *Logger) {
		l.AddHandler(func(e Event) {
			attrs := []slog.Attr{
				slog.String("audit_id", e.ID),
				slog.String("action", e.Action),
				slog.String("result", e.Result),
			}
			if e.ActivationID != "" {
				attrs = append(attrs, slog.String("activation_id", e.ActivationID))
			}
			if e.UserID != 0 {
				attrs = append(attrs, slog.Int64("user_id", e.UserID))
			}
			if e.Resource != "" {
				attrs = append(attrs, slog.String("resource", e.Resource))
			}
			if e.Details != "" {
				attrs = append(attrs, slog.String("details", e.Details))
			}
			if e.Error != "" {
				attrs = append(attrs, slog.String("error", e.Error))
			}
			log.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
		})
	}
}

// WithHandler adds a custom event handler.
func WithHandler(h Handler) Option {
	return func(l *Logger) {
		l.AddHandler(h)
	}
}

// New creates a new audit logger with buffered async emission.
// bufferSize: event queue buffer size (default: 1000).
func New(bufferSize int, opts ...Option) *Logger {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	logger := &Logger{
		handlers: make([]Handler, 0),
		queue:    make(chan Event, bufferSize),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(logger)
	}

	logger.wg.Add(1)
	go logger.process()

	return logger
}

// AddHandler adds a handler to receive audit events. Call before Log.
func (l *Logger) AddHandler(h Handler) {
	l.handlers = append(l.handlers, h)
}

// Log emits an audit event asynchronously.
func (l *Logger) Log(event Event) {
	if l == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	select {
	case <-l.done:
		// Logger is shutting down, event is dropped
		return
	default:
	}

	select {
	case l.queue <- event:
	case <-l.done:
	}
}

func (l *Logger) process() {
	defer l.wg.Done()

	for {
		select {
		case event := <-l.queue:
			l.dispatch(event)
		case <-l.done:
			// Drain remaining events
			for {
				select {
				case event := <-l.queue:
					l.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) dispatch(event Event) {
	for _, h := range l.handlers {
		h(event)
	}
}

// Close flushes pending events and stops the logger. Safe to call twice.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.closeOnce.Do(func() { close(l.done) })
	l.wg.Wait()
	return nil
}
