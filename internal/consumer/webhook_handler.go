package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"example.com/ridesync/internal/domain"
	"example.com/ridesync/internal/orchestrator"
	"example.com/ridesync/internal/platform/events"
)

// AthleteSyncer starts a sync for the user owning a provider athlete id.
type AthleteSyncer interface {
	TriggerSyncForAthlete(ctx context.Context, p domain.Provider, providerAthleteID string) (orchestrator.Ack, error)
}

// WebhookHandler maps provider push notifications to background syncs.
type WebhookHandler struct {
	syncer AthleteSyncer
	logger *log.Logger
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(syncer AthleteSyncer, logger *log.Logger) *WebhookHandler {
	if logger == nil {
		logger = log.New(log.Writer(), "[webhooks] ", log.LstdFlags|log.Lshortfile)
	}
	return &WebhookHandler{syncer: syncer, logger: logger}
}

// Handle triggers a sync for the notification's owner. Notifications that cannot lead to a
// sync (unknown provider, unknown owner, irrelevant aspect) are acknowledged and dropped.
func (h *WebhookHandler) Handle(ctx context.Context, msg Message) error {
	var hook events.ProviderWebhook
	if err := json.Unmarshal(msg.Payload, &hook); err != nil {
		recordWebhook("unknown", "invalid")
		h.logger.Printf("dropping undecodable webhook at offset %d: %v", msg.Offset, err)
		return nil
	}

	p, ok := domain.ParseProvider(hook.Provider)
	if !ok {
		recordWebhook("unknown", "unknown_provider")
		h.logger.Printf("dropping webhook for unknown provider %q", hook.Provider)
		return nil
	}
	if hook.OwnerID == "" {
		recordWebhook(string(p), "invalid")
		return nil
	}
	if !hook.TriggersSync() {
		recordWebhook(string(p), "ignored")
		return nil
	}

	_, err := h.syncer.TriggerSyncForAthlete(ctx, p, hook.OwnerID)
	switch {
	case err == nil:
		recordWebhook(string(p), "triggered")
		return nil
	case errors.Is(err, domain.ErrProfileNotFound), errors.Is(err, domain.ErrNotIntegrated), errors.Is(err, domain.ErrUnknownProvider):
		recordWebhook(string(p), "unmatched")
		h.logger.Printf("webhook for %s athlete %s has no connected user: %v", p, hook.OwnerID, err)
		return nil
	default:
		recordWebhook(string(p), "failed")
		return fmt.Errorf("trigger sync for %s athlete %s: %w", p, hook.OwnerID, err)
	}
}
