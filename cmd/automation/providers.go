package main

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/goliatone/go-automation"
	"github.com/goliatone/go-automation/action"
)

// loggingProviders writes every side effect to the log. Delivery back-ends
// are wired by the host application; the binary only records intent.
func loggingProviders(logger automation.Logger) action.Providers {
	return action.Providers{
		Messenger: action.MessengerFunc(func(_ context.Context, msg action.Message) (action.MessageReceipt, error) {
			id := uuid.NewString()
			automation.WithLoggerFields(logger, map[string]any{
				"channel": msg.Channel, "to": msg.To, "entity_id": msg.EntityID, "message_id": id,
			}).Info("message queued: %s", msg.Body)
			return action.MessageReceipt{ID: id}, nil
		}),
		Tasks: action.TaskCreatorFunc(func(_ context.Context, req action.TaskRequest) (string, error) {
			id := uuid.NewString()
			automation.WithLoggerFields(logger, map[string]any{
				"assignee_id": req.AssigneeID, "entity_id": req.EntityID, "task_id": id,
			}).Info("task created: %s", req.Title)
			return id, nil
		}),
		Fields: action.FieldUpdaterFunc(func(_ context.Context, entityType, entityID, field string, value any) error {
			logger.Info("field update %s/%s %s=%v", entityType, entityID, field, value)
			return nil
		}),
		Owners: action.OwnerAssignerFunc(func(_ context.Context, entityType, entityID, ownerID string) error {
			logger.Info("owner of %s/%s set to %s", entityType, entityID, ownerID)
			return nil
		}),
		Notifier: action.NotifierFunc(func(_ context.Context, n action.Notification) error {
			automation.WithLoggerFields(logger, map[string]any{
				"recipient_id": n.RecipientID, "level": n.Level,
			}).Info("notification: %s", n.Title)
			return nil
		}),
		Analyzer: action.AnalyzerFunc(func(_ context.Context, req action.AnalysisRequest) (map[string]any, error) {
			keys := make([]string, 0, len(req.Data))
			for k := range req.Data {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			logger.Info("analysis %s requested for %s/%s", req.Kind, req.EntityType, req.EntityID)
			return map[string]any{"kind": req.Kind, "fields": keys}, nil
		}),
	}
}
