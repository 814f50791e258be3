package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	platformlogging "github.com/zenGate-Global/tenant-pool/platform/go/logging"
	"github.com/zenGate-Global/tenant-pool/platform/go/metrics"
)

// DefaultAllocationTimeout bounds one Allocate call.
const DefaultAllocationTimeout = 10 * time.Second

// Allocator hands out slots to chatbots.
type Allocator struct {
	registry *Registry
	timeout  time.Duration
	logger   *zap.Logger
}

// NewAllocator constructs an Allocator. A non-positive timeout uses DefaultAllocationTimeout.
func NewAllocator(registry *Registry, timeout time.Duration, logger *zap.Logger) *Allocator {
	if registry == nil {
		panic("pool registry is required")
	}
	if timeout <= 0 {
		timeout = DefaultAllocationTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{registry: registry, timeout: timeout, logger: logger}
}

// Allocate reserves a slot for chatbotID. It is idempotent: a chatbot that already holds a
// slot gets that slot back. Candidates lost to a concurrent allocation are skipped.
func (a *Allocator) Allocate(ctx context.Context, chatbotID string) (Slot, error) {
	chatbotID = strings.TrimSpace(chatbotID)
	if chatbotID == "" {
		return Slot{}, fmt.Errorf("%w: chatbot id is required", ErrValidation)
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	logger := platformlogging.FromContextOr(ctx, a.logger).With(platformlogging.ChatbotID(chatbotID))

	held, err := a.registry.SlotForChatbot(ctx, chatbotID)
	switch {
	case err == nil:
		metrics.RecordAllocation("existing")
		logger.Info("chatbot already holds a slot", platformlogging.SlotID(held.SlotID))
		return held, nil
	case !errors.Is(err, ErrNotFound):
		metrics.RecordAllocation("error")
		return Slot{}, fmt.Errorf("look up existing slot: %w", err)
	}

	skip := make(map[string]bool)
	for {
		candidate, err := a.registry.findAvailable(ctx, skip)
		if err != nil {
			if errors.Is(err, ErrPoolExhausted) {
				metrics.RecordAllocation("exhausted")
				logger.Warn("pool exhausted", zap.Int("lost_races", len(skip)))
			} else {
				metrics.RecordAllocation("error")
			}
			return Slot{}, err
		}

		slot, err := a.registry.Reserve(ctx, candidate, chatbotID)
		if errors.Is(err, ErrRaceLost) {
			metrics.RecordAllocation("race_lost")
			logger.Info("lost slot to concurrent allocation", platformlogging.SlotID(candidate.SlotID))
			skip[candidate.SlotID] = true
			continue
		}
		if err != nil {
			metrics.RecordAllocation("error")
			return Slot{}, err
		}

		metrics.RecordAllocation("allocated")
		return slot, nil
	}
}
