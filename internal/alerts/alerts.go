package alerts

import (
	"context"
	"errors"
	"strings"
)

// ErrTransport marks a failed notification delivery.
var ErrTransport = errors.New("notification transport failed")

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelDanger  Level = "danger"
)

type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

type Message struct {
	Title  string
	Text   string
	Level  Level
	Fields []Field
}

// Plain renders the message for text-only transports.
func (m Message) Plain() string {
	var b strings.Builder
	if m.Title != "" {
		b.WriteString(m.Title)
	}
	if m.Text != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.Text)
	}
	for _, f := range m.Fields {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(f.Title)
		b.WriteString(": ")
		b.WriteString(f.Value)
	}
	return b.String()
}

type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

type Noop struct{}

func (Noop) Send(context.Context, Message) error { return nil }

// Multi delivers to every notifier and fails if any of them fails.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
