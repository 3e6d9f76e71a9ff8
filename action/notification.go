package action

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-automation"
)

type notificationConfig struct {
	RecipientID string `json:"recipient_id"`
	Title       string `json:"title"`
	Message     string `json:"message"`
	Level       string `json:"level"`
	Link        string `json:"link"`
}

func (c notificationConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Title, validation.Required),
		validation.Field(&c.Level, oneOf("info", "warning", "critical")),
	)
}

// NotificationExecutor handles SEND_NOTIFICATION.
type NotificationExecutor struct {
	notifier Notifier
}

func NewNotificationExecutor(n Notifier) *NotificationExecutor {
	return &NotificationExecutor{notifier: n}
}

func (e *NotificationExecutor) Kind() automation.ActionKind { return automation.ActionSendNotification }

func (e *NotificationExecutor) Execute(ctx context.Context, raw map[string]any, actx automation.Context) (Result, error) {
	var cfg notificationConfig
	if err := decodeConfig(e.Kind(), raw, &cfg); err != nil {
		return nil, err
	}

	title, err := render(e.Kind(), "title", cfg.Title, actx)
	if err != nil {
		return nil, err
	}
	message, err := render(e.Kind(), "message", cfg.Message, actx)
	if err != nil {
		return nil, err
	}

	n := Notification{
		RecipientID: cfg.RecipientID,
		Title:       title,
		Message:     message,
		Level:       cfg.Level,
		Link:        cfg.Link,
		EntityType:  actx.EntityType,
		EntityID:    actx.EntityID,
	}
	if n.RecipientID == "" {
		n.RecipientID = actx.OwnerID
	}
	if n.Level == "" {
		n.Level = "info"
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		return nil, err
	}
	return Result{
		"recipient_id": n.RecipientID,
		"level":        n.Level,
	}, nil
}
