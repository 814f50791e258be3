package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
)

// PrefixResult counts the objects a prefix deletion touched.
type PrefixResult struct {
	Deleted int
	Failed  int
}

// PrefixRemover deletes every object under a prefix of one bucket.
type PrefixRemover struct {
	client *storage.Client
	bucket string
	logger *zap.Logger
}

func NewPrefixRemover(client *storage.Client, bucket string, logger *zap.Logger) *PrefixRemover {
	if client == nil {
		panic("storage client is required")
	}
	if bucket == "" {
		panic("storage bucket is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrefixRemover{client: client, bucket: bucket, logger: logger}
}

// Check verifies the bucket is reachable.
func (p *PrefixRemover) Check(ctx context.Context) error {
	if _, err := p.client.Bucket(p.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("bucket attrs: %w", err)
	}
	return nil
}

// DeletePrefix removes every object whose name starts with prefix. Objects already gone
// count as deleted; other failures are counted and the last one is returned.
func (p *PrefixRemover) DeletePrefix(ctx context.Context, prefix string) (PrefixResult, error) {
	if strings.Trim(prefix, "/") == "" {
		return PrefixResult{}, fmt.Errorf("refusing to delete an empty prefix")
	}

	bkt := p.client.Bucket(p.bucket)
	it := bkt.Objects(ctx, &storage.Query{Prefix: prefix})

	var (
		result  PrefixResult
		lastErr error
	)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return result, fmt.Errorf("list prefix %s: %w", prefix, err)
		}

		err = bkt.Object(attrs.Name).Delete(ctx)
		switch {
		case err == nil, errors.Is(err, storage.ErrObjectNotExist):
			result.Deleted++
		default:
			result.Failed++
			lastErr = fmt.Errorf("delete %s: %w", attrs.Name, err)
			p.logger.Warn("object delete failed", zap.String("object", attrs.Name), zap.Error(err))
		}
	}
	return result, lastErr
}
