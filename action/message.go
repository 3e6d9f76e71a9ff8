package action

import (
	"context"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-automation"
)

type messageConfig struct {
	Channel string `json:"channel"`
	To      string `json:"to"`
	ToField string `json:"to_field"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (c messageConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Channel, validation.Required, oneOf("email", "sms", "chat")),
		validation.Field(&c.To, validation.When(c.ToField == "", validation.Required.Error("to or to_field is required"))),
		validation.Field(&c.Subject, validation.When(c.Channel == "email", validation.Required)),
		validation.Field(&c.Body, validation.Required),
	)
}

// MessageExecutor handles SEND_MESSAGE.
type MessageExecutor struct {
	messenger Messenger
}

func NewMessageExecutor(m Messenger) *MessageExecutor {
	return &MessageExecutor{messenger: m}
}

func (e *MessageExecutor) Kind() automation.ActionKind { return automation.ActionSendMessage }

func (e *MessageExecutor) Execute(ctx context.Context, raw map[string]any, actx automation.Context) (Result, error) {
	var cfg messageConfig
	if err := decodeConfig(e.Kind(), raw, &cfg); err != nil {
		return nil, err
	}

	to := strings.TrimSpace(cfg.To)
	if cfg.ToField != "" {
		value, ok := entityString(actx, cfg.ToField)
		if !ok {
			return nil, fmt.Errorf("recipient field %q is empty on %s %s", cfg.ToField, actx.EntityType, actx.EntityID)
		}
		to = value
	}

	subject, err := render(e.Kind(), "subject", cfg.Subject, actx)
	if err != nil {
		return nil, err
	}
	body, err := render(e.Kind(), "body", cfg.Body, actx)
	if err != nil {
		return nil, err
	}

	receipt, err := e.messenger.Send(ctx, Message{
		Channel:    cfg.Channel,
		To:         to,
		Subject:    subject,
		Body:       body,
		OwnerID:    actx.OwnerID,
		EntityType: actx.EntityType,
		EntityID:   actx.EntityID,
	})
	if err != nil {
		return nil, err
	}
	return Result{
		"channel":    cfg.Channel,
		"to":         to,
		"message_id": receipt.ID,
	}, nil
}
