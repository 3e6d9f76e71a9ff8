package action

import (
	"context"
	"time"
)

// Message is an outbound message handed to a Messenger.
type Message struct {
	Channel    string
	To         string
	Subject    string
	Body       string
	OwnerID    string
	EntityType string
	EntityID   string
}

// MessageReceipt is returned by a Messenger after accepting a message.
type MessageReceipt struct {
	ID string
}

// Messenger delivers email, sms and chat messages.
type Messenger interface {
	Send(ctx context.Context, msg Message) (MessageReceipt, error)
}

// MessengerFunc adapts a function to Messenger.
type MessengerFunc func(ctx context.Context, msg Message) (MessageReceipt, error)

func (f MessengerFunc) Send(ctx context.Context, msg Message) (MessageReceipt, error) {
	return f(ctx, msg)
}

// TaskRequest describes a task to create.
type TaskRequest struct {
	OwnerID     string
	AssigneeID  string
	Title       string
	Description string
	DueAt       *time.Time
	Priority    string
	EntityType  string
	EntityID    string
}

// TaskCreator creates tasks and returns their id.
type TaskCreator interface {
	CreateTask(ctx context.Context, req TaskRequest) (string, error)
}

// TaskCreatorFunc adapts a function to TaskCreator.
type TaskCreatorFunc func(ctx context.Context, req TaskRequest) (string, error)

func (f TaskCreatorFunc) CreateTask(ctx context.Context, req TaskRequest) (string, error) {
	return f(ctx, req)
}

// FieldUpdater writes a field through the domain write path.
type FieldUpdater interface {
	UpdateField(ctx context.Context, entityType, entityID, field string, value any) error
}

// FieldUpdaterFunc adapts a function to FieldUpdater.
type FieldUpdaterFunc func(ctx context.Context, entityType, entityID, field string, value any) error

func (f FieldUpdaterFunc) UpdateField(ctx context.Context, entityType, entityID, field string, value any) error {
	return f(ctx, entityType, entityID, field, value)
}

// OwnerAssigner changes the owner of an entity.
type OwnerAssigner interface {
	AssignOwner(ctx context.Context, entityType, entityID, ownerID string) error
}

// OwnerAssignerFunc adapts a function to OwnerAssigner.
type OwnerAssignerFunc func(ctx context.Context, entityType, entityID, ownerID string) error

func (f OwnerAssignerFunc) AssignOwner(ctx context.Context, entityType, entityID, ownerID string) error {
	return f(ctx, entityType, entityID, ownerID)
}

// Notification is an in-app notification.
type Notification struct {
	RecipientID string
	Title       string
	Message     string
	Level       string
	Link        string
	EntityType  string
	EntityID    string
}

// Notifier delivers in-app notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// AnalysisRequest is forwarded to an Analyzer.
type AnalysisRequest struct {
	Kind       string
	Prompt     string
	OwnerID    string
	EntityType string
	EntityID   string
	Data       map[string]any
}

// Analyzer runs an analysis over selected entity data.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (map[string]any, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, req AnalysisRequest) (map[string]any, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, req AnalysisRequest) (map[string]any, error) {
	return f(ctx, req)
}

// Providers bundles the back-ends the executors call. A nil provider
// leaves its kind unregistered.
type Providers struct {
	Messenger Messenger
	Tasks     TaskCreator
	Fields    FieldUpdater
	Owners    OwnerAssigner
	Notifier  Notifier
	Analyzer  Analyzer
}
