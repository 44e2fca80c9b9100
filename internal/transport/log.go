package transport

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogTransport is a dry-run Transport that renders through the logger.
// It backs the CLI when no chat frontend is wired and doubles as a
// harness in tests.
type LogTransport struct {
	log logrus.FieldLogger

	mu     sync.Mutex
	nextID int
}

func NewLogTransport(log logrus.FieldLogger) *LogTransport {
	return &LogTransport{log: log}
}

func (l *LogTransport) Send(_ context.Context, chatID int64, text string, kb Keyboard, media *Media) (MessageRef, error) {
	l.mu.Lock()
	l.nextID++
	ref := MessageRef{ChatID: chatID, MessageID: l.nextID}
	l.mu.Unlock()

	l.entry(ref, text, kb, media).Info("send")
	return ref, nil
}

func (l *LogTransport) Edit(_ context.Context, ref MessageRef, text string, kb Keyboard, media *Media) (MessageRef, error) {
	if media != nil {
		return MessageRef{}, ErrUnsupportedEditMedia
	}
	l.entry(ref, text, kb, nil).Info("edit")
	return ref, nil
}

func (l *LogTransport) Delete(_ context.Context, ref MessageRef) error {
	l.log.WithField("message", ref.MessageID).Info("delete")
	return nil
}

func (l *LogTransport) Notify(_ context.Context, chatID int64, text string) error {
	l.log.WithField("chat", chatID).Info("notify: " + text)
	return nil
}

func (l *LogTransport) entry(ref MessageRef, text string, kb Keyboard, media *Media) *logrus.Entry {
	e := l.log.WithFields(logrus.Fields{
		"chat":    ref.ChatID,
		"message": ref.MessageID,
		"text":    text,
	})
	if len(kb) > 0 {
		var labels []string
		for _, row := range kb {
			for _, b := range row {
				labels = append(labels, b.Label)
			}
		}
		e = e.WithField("buttons", labels)
	}
	if media != nil {
		e = e.WithField("media", string(media.Kind)+" "+media.URL)
	}
	return e
}
