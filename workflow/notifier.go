package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/aftersales_backend/aftersales"
	"bitbucket.org/mmdatafocus/aftersales_backend/config"
	"bitbucket.org/mmdatafocus/aftersales_backend/utils"
	"github.com/sirupsen/logrus"
)

type PublishFunc func(ctx context.Context, msg config.CaseNotificationMessage) (string, error)

// PubSubNotifier delivers case notifications to the chat bot topic.
type PubSubNotifier struct {
	Logger         *logrus.Logger
	MaxAttempts    int
	InitialBackoff time.Duration

	publish PublishFunc
}

func NewPubSubNotifier(logger *logrus.Logger) *PubSubNotifier {
	return &PubSubNotifier{
		Logger:         logger,
		MaxAttempts:    3,
		InitialBackoff: 200 * time.Millisecond,
		publish:        config.PublishCaseNotificationWithResult,
	}
}

// WithPublisher swaps the Pub/Sub call, e.g. for a local stub.
func (n *PubSubNotifier) WithPublisher(fn PublishFunc) *PubSubNotifier {
	n.publish = fn
	return n
}

func (n *PubSubNotifier) Notify(ctx context.Context, note aftersales.Notification) error {
	msg := config.CaseNotificationMessage{
		RecipientId: note.RecipientId,
		EventType:   note.EventType,
		Title:       note.Title,
		Body:        note.Body,
		LinkPath:    note.LinkPath,
		CaseId:      note.CaseId,
		SentAt:      time.Now().UTC(),
	}
	if v, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		msg.CorrelationId = v
	}

	attempts := n.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := n.InitialBackoff

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var id string
		id, err = n.publish(ctx, msg)
		if err == nil {
			if n.Logger != nil {
				n.Logger.WithFields(logrus.Fields{
					"field":        "PubSubNotifier",
					"case_id":      note.CaseId,
					"event_type":   note.EventType,
					"recipient_id": note.RecipientId,
					"message_id":   id,
				}).Debug("case notification published")
			}
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("publish %s to %s after %d attempts: %w", note.EventType, note.RecipientId, attempts, err)
}

// LogNotifier writes notifications to the log instead of Pub/Sub. Used with APP_STORAGE=memory.
type LogNotifier struct {
	Logger *logrus.Logger
}

func (n LogNotifier) Notify(ctx context.Context, note aftersales.Notification) error {
	n.Logger.WithFields(logrus.Fields{
		"field":        "LogNotifier",
		"case_id":      note.CaseId,
		"event_type":   note.EventType,
		"recipient_id": note.RecipientId,
	}).Info(note.Title)
	return nil
}
