package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zenGate-Global/tenant-pool/domains/pool/be/service"
)

// MemoryRepository is an in-memory CentralStore for tests and local development.
type MemoryRepository struct {
	mu    sync.RWMutex
	slots map[string]service.Slot
	now   func() time.Time
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		slots: make(map[string]service.Slot),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) Register(ctx context.Context, slotID, projectID, actor string) (service.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.slots[slotID]; ok {
		return service.Slot{}, service.ErrDuplicate
	}
	for _, s := range r.slots {
		if s.ProjectID == projectID {
			return service.Slot{}, service.ErrDuplicate
		}
	}

	slot := service.Slot{
		SlotID:    slotID,
		ProjectID: projectID,
		Status:    service.StatusAvailable,
		Version:   1,
		UpdatedAt: r.now(),
		UpdatedBy: actor,
	}
	r.slots[slotID] = slot
	return slot, nil
}

func (r *MemoryRepository) Get(ctx context.Context, slotID string) (service.Slot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	slot, ok := r.slots[slotID]
	if !ok {
		return service.Slot{}, service.ErrNotFound
	}
	return slot, nil
}

func (r *MemoryRepository) GetByChatbot(ctx context.Context, chatbotID string) (service.Slot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, slot := range r.slots {
		if slot.ChatbotID != "" && slot.ChatbotID == chatbotID {
			return slot, nil
		}
	}
	return service.Slot{}, service.ErrNotFound
}

func (r *MemoryRepository) List(ctx context.Context, status *service.Status) ([]service.Slot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]service.Slot, 0, len(r.slots))
	for _, slot := range r.slots {
		if status != nil && slot.Status != *status {
			continue
		}
		items = append(items, slot)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].SlotID < items[j].SlotID })
	return items, nil
}

func (r *MemoryRepository) CompareAndSwap(ctx context.Context, next service.Slot, expectedVersion int64) (service.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.slots[next.SlotID]
	if !ok {
		return service.Slot{}, service.ErrNotFound
	}
	if current.Version != expectedVersion {
		return service.Slot{}, service.ErrVersionConflict
	}
	if next.ChatbotID != "" {
		for id, s := range r.slots {
			if id != next.SlotID && s.ChatbotID == next.ChatbotID {
				return service.Slot{}, service.ErrDuplicate
			}
		}
	}

	next.ProjectID = current.ProjectID
	next.Version = current.Version + 1
	next.UpdatedAt = r.now()
	r.slots[next.SlotID] = next
	return next, nil
}

func (r *MemoryRepository) MarkChecked(ctx context.Context, slotID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.slots[slotID]
	if !ok {
		return service.ErrNotFound
	}
	checked := at
	slot.LastCheckedAt = &checked
	r.slots[slotID] = slot
	return nil
}

var _ service.CentralStore = (*MemoryRepository)(nil)
