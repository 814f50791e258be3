package repo

import (
	"context"
	"errors"
	"time"

	"github.com/zenGate-Global/tenant-pool/domains/pool/be/service"
	"github.com/zenGate-Global/tenant-pool/platform/go/persistence"
)

// PostgresRepository adapts persistence.SlotStore to the CentralStore port.
type PostgresRepository struct {
	store *persistence.SlotStore
}

// NewPostgresRepository constructs a PostgresRepository.
func NewPostgresRepository(store *persistence.SlotStore) *PostgresRepository {
	if store == nil {
		panic("slot store is required")
	}
	return &PostgresRepository{store: store}
}

func (r *PostgresRepository) Register(ctx context.Context, slotID, projectID, actor string) (service.Slot, error) {
	rec, err := r.store.Register(ctx, slotID, projectID, actor)
	if err != nil {
		return service.Slot{}, mapError(err)
	}
	return fromRecord(rec), nil
}

func (r *PostgresRepository) Get(ctx context.Context, slotID string) (service.Slot, error) {
	rec, err := r.store.Get(ctx, slotID)
	if err != nil {
		return service.Slot{}, mapError(err)
	}
	return fromRecord(rec), nil
}

func (r *PostgresRepository) GetByChatbot(ctx context.Context, chatbotID string) (service.Slot, error) {
	rec, err := r.store.GetByChatbot(ctx, chatbotID)
	if err != nil {
		return service.Slot{}, mapError(err)
	}
	return fromRecord(rec), nil
}

func (r *PostgresRepository) List(ctx context.Context, status *service.Status) ([]service.Slot, error) {
	var filter *string
	if status != nil {
		s := string(*status)
		filter = &s
	}

	records, err := r.store.List(ctx, filter)
	if err != nil {
		return nil, mapError(err)
	}
	slots := make([]service.Slot, 0, len(records))
	for _, rec := range records {
		slots = append(slots, fromRecord(rec))
	}
	return slots, nil
}

func (r *PostgresRepository) CompareAndSwap(ctx context.Context, next service.Slot, expectedVersion int64) (service.Slot, error) {
	rec, err := r.store.CompareAndSwap(ctx, toRecord(next), expectedVersion)
	if err != nil {
		return service.Slot{}, mapError(err)
	}
	return fromRecord(rec), nil
}

func (r *PostgresRepository) MarkChecked(ctx context.Context, slotID string, at time.Time) error {
	return mapError(r.store.MarkChecked(ctx, slotID, at))
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound):
		return service.ErrNotFound
	case errors.Is(err, persistence.ErrVersionConflict):
		return service.ErrVersionConflict
	case errors.Is(err, persistence.ErrDuplicate):
		return service.ErrDuplicate
	default:
		return err
	}
}

func fromRecord(rec persistence.SlotRecord) service.Slot {
	return service.Slot{
		SlotID:        rec.SlotID,
		ProjectID:     rec.ProjectID,
		Status:        service.Status(rec.Status),
		ChatbotID:     deref(rec.ChatbotID),
		DeployedAt:    rec.DeployedAt,
		DeploymentURL: deref(rec.DeploymentURL),
		LastCheckedAt: rec.LastCheckedAt,
		Version:       rec.Version,
		UpdatedAt:     rec.UpdatedAt,
		UpdatedBy:     deref(rec.UpdatedBy),
	}
}

func toRecord(slot service.Slot) persistence.SlotRecord {
	return persistence.SlotRecord{
		SlotID:        slot.SlotID,
		ProjectID:     slot.ProjectID,
		Status:        string(slot.Status),
		ChatbotID:     optional(slot.ChatbotID),
		DeployedAt:    slot.DeployedAt,
		DeploymentURL: optional(slot.DeploymentURL),
		LastCheckedAt: slot.LastCheckedAt,
		Version:       slot.Version,
		UpdatedAt:     slot.UpdatedAt,
		UpdatedBy:     optional(slot.UpdatedBy),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ service.CentralStore = (*PostgresRepository)(nil)
