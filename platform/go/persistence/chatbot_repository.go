package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ChatbotRecord is the metadata a teardown needs: owning slot, graph connection and documents.
type ChatbotRecord struct {
	ChatbotID   string    `db:"chatbot_id"`
	SlotID      *string   `db:"slot_id"`
	GraphURI    *string   `db:"graph_uri"`
	CreatedAt   time.Time `db:"created_at"`
	DocumentIDs []string
}

// ChatbotStore provides access to the chatbots and chatbot_documents tables.
type ChatbotStore struct {
	pool      *pgxpool.Pool
	chatbots  string
	documents string
}

// NewChatbotStore creates a store; assumes BootstrapPoolSchema already created the tables.
func NewChatbotStore(ctx context.Context, pool *pgxpool.Pool, schema string) (*ChatbotStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &ChatbotStore{
		pool:      pool,
		chatbots:  qualify(schema, "chatbots"),
		documents: qualify(schema, "chatbot_documents"),
	}, nil
}

// Upsert writes the chatbot row and adds any document ids not yet recorded.
func (s *ChatbotStore) Upsert(ctx context.Context, rec ChatbotRecord) error {
	if rec.ChatbotID == "" {
		return errors.New("chatbot id is required")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	upsert := fmt.Sprintf(`
        INSERT INTO %s AS c (chatbot_id, slot_id, graph_uri)
        VALUES ($1, $2, $3)
        ON CONFLICT (chatbot_id) DO UPDATE SET
            slot_id = COALESCE(EXCLUDED.slot_id, c.slot_id),
            graph_uri = COALESCE(EXCLUDED.graph_uri, c.graph_uri)`, s.chatbots)
	if _, err = tx.Exec(ctx, upsert, rec.ChatbotID, rec.SlotID, rec.GraphURI); err != nil {
		return err
	}

	insertDoc := fmt.Sprintf(`INSERT INTO %s (chatbot_id, document_id) VALUES ($1, $2)
        ON CONFLICT DO NOTHING`, s.documents)
	for _, docID := range rec.DocumentIDs {
		if _, err = tx.Exec(ctx, insertDoc, rec.ChatbotID, docID); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// Get returns the chatbot with its document ids sorted ascending.
func (s *ChatbotStore) Get(ctx context.Context, chatbotID string) (ChatbotRecord, error) {
	query := fmt.Sprintf(`SELECT chatbot_id, slot_id, graph_uri, created_at FROM %s WHERE chatbot_id = $1`, s.chatbots)

	var rec ChatbotRecord
	if err := s.pool.QueryRow(ctx, query, chatbotID).Scan(&rec.ChatbotID, &rec.SlotID, &rec.GraphURI, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ChatbotRecord{}, ErrNotFound
		}
		return ChatbotRecord{}, err
	}

	docs := fmt.Sprintf(`SELECT document_id FROM %s WHERE chatbot_id = $1 ORDER BY document_id`, s.documents)
	rows, err := s.pool.Query(ctx, docs, chatbotID)
	if err != nil {
		return ChatbotRecord{}, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return ChatbotRecord{}, err
	}
	rec.DocumentIDs = ids
	return rec, nil
}

// Delete removes the chatbot and its documents. Returns false when nothing existed.
func (s *ChatbotStore) Delete(ctx context.Context, chatbotID string) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err = tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE chatbot_id = $1`, s.documents), chatbotID); err != nil {
		return false, err
	}
	tag, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE chatbot_id = $1`, s.chatbots), chatbotID)
	if err != nil {
		return false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
