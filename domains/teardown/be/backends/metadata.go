package backends

import (
	"context"
	"errors"

	"github.com/zenGate-Global/tenant-pool/domains/teardown/be/service"
	"github.com/zenGate-Global/tenant-pool/platform/go/persistence"
)

// PostgresMetadata adapts persistence.ChatbotStore to the Metadata port.
type PostgresMetadata struct {
	store *persistence.ChatbotStore
}

func NewPostgresMetadata(store *persistence.ChatbotStore) *PostgresMetadata {
	if store == nil {
		panic("chatbot store is required")
	}
	return &PostgresMetadata{store: store}
}

func (m *PostgresMetadata) Get(ctx context.Context, chatbotID string) (service.Chatbot, error) {
	rec, err := m.store.Get(ctx, chatbotID)
	if errors.Is(err, persistence.ErrNotFound) {
		return service.Chatbot{}, service.ErrChatbotNotFound
	}
	if err != nil {
		return service.Chatbot{}, err
	}
	bot := service.Chatbot{ChatbotID: rec.ChatbotID, DocumentIDs: rec.DocumentIDs}
	if rec.SlotID != nil {
		bot.SlotID = *rec.SlotID
	}
	if rec.GraphURI != nil {
		bot.GraphURI = *rec.GraphURI
	}
	return bot, nil
}

func (m *PostgresMetadata) Delete(ctx context.Context, chatbotID string) (bool, error) {
	return m.store.Delete(ctx, chatbotID)
}

var _ service.Metadata = (*PostgresMetadata)(nil)
