package backends

import (
	"context"
	"fmt"

	"github.com/zenGate-Global/tenant-pool/domains/teardown/be/service"
	"github.com/zenGate-Global/tenant-pool/platform/go/storage"
	"github.com/zenGate-Global/tenant-pool/platform/go/tenant"
)

type prefixDeleter interface {
	DeletePrefix(ctx context.Context, prefix string) (storage.PrefixResult, error)
}

// ObjectStorage deletes document artifacts stored under the chatbot's space.
type ObjectStorage struct {
	remover prefixDeleter
	envKey  string
}

// NewObjectStorage wraps a prefix remover; envKey scopes object names per environment.
func NewObjectStorage(remover *storage.PrefixRemover, envKey string) *ObjectStorage {
	if remover == nil {
		panic("prefix remover is required")
	}
	return &ObjectStorage{remover: remover, envKey: envKey}
}

// DeleteDocuments removes each document prefix. With no document ids the whole documents
// folder of the chatbot is removed, which also makes a repeated teardown a no-op.
func (o *ObjectStorage) DeleteDocuments(ctx context.Context, chatbotID, slotID string, documentIDs []string) (service.DeleteCount, error) {
	space := tenant.NewSpace(o.envKey, chatbotID, slotID)

	prefixes := make([]string, 0, len(documentIDs))
	for _, id := range documentIDs {
		prefixes = append(prefixes, space.DocumentPrefix(id))
	}
	if len(prefixes) == 0 {
		prefixes = append(prefixes, space.BasePrefix+"documents/")
	}

	var (
		total   service.DeleteCount
		lastErr error
	)
	for _, prefix := range prefixes {
		res, err := o.remover.DeletePrefix(ctx, prefix)
		total.Deleted += res.Deleted
		total.Failed += res.Failed
		if err != nil {
			lastErr = fmt.Errorf("prefix %s: %w", prefix, err)
			if ctx.Err() != nil {
				return total, lastErr
			}
		}
	}
	return total, lastErr
}

var _ service.ObjectStore = (*ObjectStorage)(nil)
