// Package notify delivers user-facing success and error messages.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Kind classifies a notification.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// Notification is a toast-style message about a hook.
type Notification struct {
	Kind    Kind      `json:"kind"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Target  string    `json:"target,omitempty"`
	HookID  string    `json:"hook_id,omitempty"`
	At      time.Time `json:"at"`
}

// Notifier is a side-effect sink for notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n Notification) error

// Notify calls f.
func (f Func) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Nop discards every notification.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(context.Context, Notification) error { return nil }

// Log writes notifications through slog.
type Log struct {
	logger *slog.Logger
}

// NewLog returns a Log notifier.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "notify")}
}

// Notify logs n at info for success and warn for errors.
func (l *Log) Notify(ctx context.Context, n Notification) error {
	level := slog.LevelInfo
	if n.Kind == KindError {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, n.Title, "kind", n.Kind, "message", n.Message, "target", n.Target, "hook_id", n.HookID)
	return nil
}

// Multi fans a notification out to every sink and joins their errors.
type Multi []Notifier

// Notify delivers n to every sink.
func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WithHook stamps every notification with hookID before passing it on.
func WithHook(next Notifier, hookID string) Notifier {
	return Func(func(ctx context.Context, n Notification) error {
		n.HookID = hookID
		return next.Notify(ctx, n)
	})
}
