package backends

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"go.uber.org/zap"

	"github.com/zenGate-Global/tenant-pool/domains/teardown/be/service"
)

const (
	// DefaultVectorClass holds one object per embedded document chunk.
	DefaultVectorClass = "DocumentChunk"
	maxDeleteRounds    = 50
)

// WeaviateConfig locates the vector store.
type WeaviateConfig struct {
	URL    string
	APIKey string
	Class  string
}

// Vectors deletes chunk objects tagged with chatbotId/documentId properties.
type Vectors struct {
	client *weaviate.Client
	class  string
	logger *zap.Logger
}

func NewVectors(cfg WeaviateConfig, logger *zap.Logger) (*Vectors, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q", cfg.URL)
	}
	clientCfg := weaviate.Config{Host: u.Host, Scheme: u.Scheme}
	if cfg.APIKey != "" {
		clientCfg.Headers = map[string]string{"Authorization": "Bearer " + cfg.APIKey}
	}
	client, err := weaviate.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	if cfg.Class == "" {
		cfg.Class = DefaultVectorClass
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Vectors{client: client, class: cfg.Class, logger: logger}, nil
}

func chatbotFilter(chatbotID string, documentIDs []string) *filters.WhereBuilder {
	byChatbot := filters.Where().
		WithPath([]string{"chatbotId"}).
		WithOperator(filters.Equal).
		WithValueText(chatbotID)
	if len(documentIDs) == 0 {
		return byChatbot
	}
	return filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			byChatbot,
			filters.Where().
				WithPath([]string{"documentId"}).
				WithOperator(filters.ContainsAny).
				WithValueText(documentIDs...),
		})
}

// DeleteDocuments batch-deletes matching objects. Weaviate caps one batch delete at its
// query limit, so the call repeats while full batches keep coming back.
func (v *Vectors) DeleteDocuments(ctx context.Context, chatbotID string, documentIDs []string) (service.DeleteCount, error) {
	if strings.TrimSpace(chatbotID) == "" {
		return service.DeleteCount{}, fmt.Errorf("chatbot id is required")
	}

	var total service.DeleteCount
	for round := 0; round < maxDeleteRounds; round++ {
		resp, err := v.client.Batch().ObjectsBatchDeleter().
			WithClassName(v.class).
			WithOutput("minimal").
			WithWhere(chatbotFilter(chatbotID, documentIDs)).
			Do(ctx)
		if err != nil {
			return total, fmt.Errorf("weaviate batch delete: %w", err)
		}
		if resp == nil || resp.Results == nil {
			return total, nil
		}

		res := resp.Results
		total.Deleted += int(res.Successful)
		total.Failed += int(res.Failed)
		v.logger.Debug("weaviate batch delete round",
			zap.String("chatbot_id", chatbotID),
			zap.Int64("matches", res.Matches),
			zap.Int64("successful", res.Successful),
			zap.Int64("failed", res.Failed),
		)
		if res.Successful == 0 || res.Limit == 0 || res.Matches < res.Limit {
			return total, nil
		}
	}
	return total, fmt.Errorf("weaviate batch delete did not drain after %d rounds", maxDeleteRounds)
}

var _ service.VectorStore = (*Vectors)(nil)
