package repo

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/zenGate-Global/tenant-pool/domains/deployments/be/service"
)

// MemoryRepository keeps deployment records in memory.
type MemoryRepository struct {
	mu          sync.RWMutex
	deployments map[uuid.UUID]service.Deployment
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{deployments: make(map[uuid.UUID]service.Deployment)}
}

func (r *MemoryRepository) Save(ctx context.Context, d service.Deployment) (service.Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.deployments[d.ID]; ok {
		d.CreatedAt = existing.CreatedAt
	}
	r.deployments[d.ID] = d
	return d, nil
}

func (r *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (service.Deployment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.deployments[id]
	if !ok {
		return service.Deployment{}, service.ErrNotFound
	}
	return d, nil
}

// ListBySlot returns the slot's deployments, newest first.
func (r *MemoryRepository) ListBySlot(ctx context.Context, slotID string) ([]service.Deployment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []service.Deployment
	for _, d := range r.deployments {
		if d.SlotID == slotID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

var _ service.Store = (*MemoryRepository)(nil)
