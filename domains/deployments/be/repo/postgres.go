package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/zenGate-Global/tenant-pool/domains/deployments/be/service"
	"github.com/zenGate-Global/tenant-pool/platform/go/persistence"
)

// PostgresRepository adapts persistence.DeploymentStore to the Store port.
type PostgresRepository struct {
	store *persistence.DeploymentStore
}

// NewPostgresRepository constructs a PostgresRepository.
func NewPostgresRepository(store *persistence.DeploymentStore) *PostgresRepository {
	if store == nil {
		panic("deployment store is required")
	}
	return &PostgresRepository{store: store}
}

func (r *PostgresRepository) Save(ctx context.Context, d service.Deployment) (service.Deployment, error) {
	rec, err := r.store.Save(ctx, toRecord(d))
	if err != nil {
		return service.Deployment{}, mapError(err)
	}
	return fromRecord(rec), nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (service.Deployment, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return service.Deployment{}, mapError(err)
	}
	return fromRecord(rec), nil
}

func (r *PostgresRepository) ListBySlot(ctx context.Context, slotID string) ([]service.Deployment, error) {
	records, err := r.store.ListBySlot(ctx, slotID, 0)
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]service.Deployment, 0, len(records))
	for _, rec := range records {
		out = append(out, fromRecord(rec))
	}
	return out, nil
}

func mapError(err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return service.ErrNotFound
	}
	return err
}

func fromRecord(rec persistence.DeploymentRecord) service.Deployment {
	return service.Deployment{
		ID:                   rec.DeploymentID,
		SlotID:               rec.SlotID,
		ChatbotID:            deref(rec.ChatbotID),
		ProviderDeploymentID: deref(rec.ProviderDeploymentID),
		State:                service.State(rec.BuildState),
		ResolvedURL:          deref(rec.ResolvedURL),
		RawBuildURL:          deref(rec.RawBuildURL),
		Clean:                rec.Clean,
		FailureReason:        deref(rec.FailureReason),
		ProviderMessage:      deref(rec.ProviderMessage),
		CreatedAt:            rec.CreatedAt,
		UpdatedAt:            rec.UpdatedAt,
	}
}

func toRecord(d service.Deployment) persistence.DeploymentRecord {
	return persistence.DeploymentRecord{
		DeploymentID:         d.ID,
		SlotID:               d.SlotID,
		ChatbotID:            optional(d.ChatbotID),
		ProviderDeploymentID: optional(d.ProviderDeploymentID),
		BuildState:           string(d.State),
		ResolvedURL:          optional(d.ResolvedURL),
		RawBuildURL:          optional(d.RawBuildURL),
		Clean:                d.Clean,
		FailureReason:        optional(d.FailureReason),
		ProviderMessage:      optional(d.ProviderMessage),
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
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

var _ service.Store = (*PostgresRepository)(nil)
