package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Errors returned by the pool services.
var (
	ErrPoolExhausted          = errors.New("no pool slot available")
	ErrRaceLost               = errors.New("slot was taken by a concurrent allocation")
	ErrReconciliationMismatch = errors.New("central record and slot flag disagree")
	ErrNotFound               = errors.New("slot not found")
	ErrVersionConflict        = errors.New("slot record changed concurrently")
	ErrDuplicate              = errors.New("slot already exists")
	ErrFlagMissing            = errors.New("slot flag not found")
	ErrInvalidTransition      = errors.New("invalid slot status transition")
	ErrValidation             = errors.New("validation error")
)

// Status is the central lifecycle state of a slot.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusInUse       Status = "in-use"
	StatusMaintenance Status = "maintenance"
	StatusDeprecated  Status = "deprecated"
)

// ParseStatus validates s.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusAvailable, StatusInUse, StatusMaintenance, StatusDeprecated:
		return Status(s), nil
	default:
		return "", fmt.Errorf("%w: unknown slot status %q", ErrValidation, s)
	}
}

// Slot is the central tracking record of one pool project.
type Slot struct {
	SlotID        string     `json:"slotId"`
	ProjectID     string     `json:"projectId"`
	Status        Status     `json:"status"`
	ChatbotID     string     `json:"chatbotId,omitempty"`
	DeployedAt    *time.Time `json:"deployedAt,omitempty"`
	DeploymentURL string     `json:"deploymentUrl,omitempty"`
	LastCheckedAt *time.Time `json:"lastCheckedAt,omitempty"`
	Version       int64      `json:"version"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	UpdatedBy     string     `json:"updatedBy,omitempty"`
}

// Flag is the in-use marker stored inside the slot's own project.
type Flag struct {
	InUse     bool
	ChatbotID string
}

const (
	flagAvailable   = "available"
	flagInUsePrefix = "in-use:"
)

// String encodes the flag as stored: "available" or "in-use:<chatbotId>".
func (f Flag) String() string {
	if !f.InUse {
		return flagAvailable
	}
	return flagInUsePrefix + f.ChatbotID
}

// ParseFlag decodes a stored flag payload.
func ParseFlag(payload string) (Flag, error) {
	payload = strings.TrimSpace(payload)
	switch {
	case payload == flagAvailable:
		return Flag{}, nil
	case strings.HasPrefix(payload, flagInUsePrefix):
		owner := strings.TrimPrefix(payload, flagInUsePrefix)
		if owner == "" {
			return Flag{}, fmt.Errorf("flag %q has no owner", payload)
		}
		return Flag{InUse: true, ChatbotID: owner}, nil
	default:
		return Flag{}, fmt.Errorf("unrecognised flag payload %q", payload)
	}
}

// flagFor is the flag value that agrees with a central record.
func flagFor(slot Slot) Flag {
	if slot.Status == StatusInUse {
		return Flag{InUse: true, ChatbotID: slot.ChatbotID}
	}
	return Flag{}
}

// CentralStore persists the shared tracking records.
type CentralStore interface {
	// Register inserts a new available slot; ErrDuplicate when it exists.
	Register(ctx context.Context, slotID, projectID, actor string) (Slot, error)
	Get(ctx context.Context, slotID string) (Slot, error)
	GetByChatbot(ctx context.Context, chatbotID string) (Slot, error)
	// List is ordered by slot id.
	List(ctx context.Context, status *Status) ([]Slot, error)
	// CompareAndSwap stores next when the stored version equals expectedVersion,
	// otherwise it returns ErrVersionConflict.
	CompareAndSwap(ctx context.Context, next Slot, expectedVersion int64) (Slot, error)
	// MarkChecked stamps last_checked_at without changing the version.
	MarkChecked(ctx context.Context, slotID string, at time.Time) error
}

// FlagStore reads and writes the per-slot flag using the slot project's own credentials.
type FlagStore interface {
	// Read returns ErrFlagMissing when the slot was never initialised.
	Read(ctx context.Context, projectID string) (Flag, error)
	Write(ctx context.Context, projectID string, flag Flag) error
}
