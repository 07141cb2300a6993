package handlers

import (
	"context"

	loggingpkg "github.com/drblury/taskflow/internal/runtime/logging"
	"github.com/drblury/taskflow/internal/runtime/task"
)

// EmailPayload is the payload of an "email" task.
type EmailPayload struct {
	To      string `json:"to" validate:"required"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// SMSPayload is the payload of an "sms" task.
type SMSPayload struct {
	To      string `json:"to" validate:"required"`
	Message string `json:"message"`
}

// PushPayload is the payload of a "push" task.
type PushPayload struct {
	DeviceID string `json:"device_id" validate:"required"`
	Message  string `json:"message"`
}

// Notification is the invocation record a built-in handler emits.
type Notification struct {
	Kind      string
	Recipient string
	Subject   string
	Body      string
}

// Notifier performs the side effect of a built-in task.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// LogNotifier records each notification as a log line instead of sending it.
type LogNotifier struct {
	Logger loggingpkg.ServiceLogger
}

func (l LogNotifier) Notify(_ context.Context, n Notification) error {
	if l.Logger == nil {
		return nil
	}
	fields := loggingpkg.LogFields{"kind": n.Kind, "to": n.Recipient}
	if n.Subject != "" {
		fields["subject"] = n.Subject
	}
	if n.Body != "" {
		fields["body"] = n.Body
	}
	l.Logger.Info("Handling "+n.Kind+" task", fields)
	return nil
}

// EmailHandler delivers email tasks through n.
func EmailHandler(n Notifier) Handler {
	return JSONHandler(func(ctx context.Context, p EmailPayload) error {
		return n.Notify(ctx, Notification{Kind: task.KindEmail, Recipient: p.To, Subject: p.Subject, Body: p.Body})
	})
}

// SMSHandler delivers sms tasks through n.
func SMSHandler(n Notifier) Handler {
	return JSONHandler(func(ctx context.Context, p SMSPayload) error {
		return n.Notify(ctx, Notification{Kind: task.KindSMS, Recipient: p.To, Body: p.Message})
	})
}

// PushHandler delivers push tasks through n.
func PushHandler(n Notifier) Handler {
	return JSONHandler(func(ctx context.Context, p PushPayload) error {
		return n.Notify(ctx, Notification{Kind: task.KindPush, Recipient: p.DeviceID, Body: p.Message})
	})
}

// Builtins returns registry entries for email, sms and push.
func Builtins(n Notifier) []Entry {
	return []Entry{
		{Kind: task.KindEmail, Handler: EmailHandler(n)},
		{Kind: task.KindSMS, Handler: SMSHandler(n)},
		{Kind: task.KindPush, Handler: PushHandler(n)},
	}
}

// SamplePayload returns the demo payload the producer publishes for kind.
func SamplePayload(kind string) (map[string]any, bool) {
	switch kind {
	case task.KindEmail:
		return map[string]any{"to": "user@example.com", "subject": "Hello", "body": "Hi there!"}, true
	case task.KindSMS:
		return map[string]any{"to": "+1234567890", "message": "Your code is 1234"}, true
	case task.KindPush:
		return map[string]any{"device_id": "abc123", "message": "New update available!"}, true
	default:
		return nil, false
	}
}
