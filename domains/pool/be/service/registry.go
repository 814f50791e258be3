package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	platformlogging "github.com/zenGate-Global/tenant-pool/platform/go/logging"
	"github.com/zenGate-Global/tenant-pool/platform/go/metrics"
	"github.com/zenGate-Global/tenant-pool/platform/go/requesttrace"
	"github.com/zenGate-Global/tenant-pool/platform/go/retry"
)

// casAttempts bounds read-modify-write loops for operator edits that may collide with
// reconciliation or deployment updates.
const casAttempts = 3

// Registry owns both sources of slot state: the central record and the in-project flag.
// The flag is the authoritative lock; the central record is the shared index.
type Registry struct {
	central CentralStore
	flags   FlagStore
	clock   retry.Clock
	logger  *zap.Logger
	locks   slotLocks
}

// NewRegistry constructs a Registry with required dependencies.
func NewRegistry(central CentralStore, flags FlagStore, clock retry.Clock, logger *zap.Logger) *Registry {
	if central == nil {
		panic("pool central store is required")
	}
	if flags == nil {
		panic("pool flag store is required")
	}
	if clock == nil {
		clock = retry.SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{central: central, flags: flags, clock: clock, logger: logger}
}

func (r *Registry) log(ctx context.Context, slot Slot) *zap.Logger {
	return platformlogging.FromContextOr(ctx, r.logger).With(
		platformlogging.SlotID(slot.SlotID), platformlogging.ProjectID(slot.ProjectID))
}

func (r *Registry) now() time.Time { return r.clock.Now().UTC() }

// Register adds a pool project. The flag is initialised before the central record so a
// half-registered slot is never offered for allocation.
func (r *Registry) Register(ctx context.Context, slotID, projectID string) (Slot, error) {
	slotID = strings.TrimSpace(slotID)
	projectID = strings.TrimSpace(projectID)
	if slotID == "" || projectID == "" {
		return Slot{}, fmt.Errorf("%w: slot id and project id are required", ErrValidation)
	}

	if err := r.flags.Write(ctx, projectID, Flag{}); err != nil {
		return Slot{}, fmt.Errorf("initialise slot flag: %w", err)
	}
	slot, err := r.central.Register(ctx, slotID, projectID, requesttrace.Actor(ctx))
	if err != nil {
		return Slot{}, err
	}
	r.log(ctx, slot).Info("slot registered")
	return slot, nil
}

// Get returns the central record of slotID.
func (r *Registry) Get(ctx context.Context, slotID string) (Slot, error) {
	return r.central.Get(ctx, slotID)
}

// SlotForChatbot returns the slot currently held by chatbotID.
func (r *Registry) SlotForChatbot(ctx context.Context, chatbotID string) (Slot, error) {
	return r.central.GetByChatbot(ctx, chatbotID)
}

// List returns slots ordered by id, optionally filtered by status.
func (r *Registry) List(ctx context.Context, status *Status) ([]Slot, error) {
	return r.central.List(ctx, status)
}

// ReadFlag exposes the in-project flag for operator inspection.
func (r *Registry) ReadFlag(ctx context.Context, slotID string) (Flag, error) {
	slot, err := r.central.Get(ctx, slotID)
	if err != nil {
		return Flag{}, err
	}
	return r.flags.Read(ctx, slot.ProjectID)
}

// FindAvailableSlot returns the lowest slot that both sources report as available.
func (r *Registry) FindAvailableSlot(ctx context.Context) (Slot, error) {
	return r.findAvailable(ctx, nil)
}

func (r *Registry) findAvailable(ctx context.Context, skip map[string]bool) (Slot, error) {
	status := StatusAvailable
	candidates, err := r.central.List(ctx, &status)
	if err != nil {
		return Slot{}, fmt.Errorf("list available slots: %w", err)
	}

	for _, slot := range candidates {
		if skip[slot.SlotID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Slot{}, err
		}

		flag, err := r.flags.Read(ctx, slot.ProjectID)
		if err != nil {
			metrics.RecordMismatch(string(MismatchFlagUnreadable))
			r.log(ctx, slot).Warn("skipping slot with unreadable flag", zap.Error(err))
			continue
		}
		if flag.InUse {
			metrics.RecordMismatch(string(MismatchCentralAvailableFlagInUse))
			r.log(ctx, slot).Warn("skipping slot whose flag is in use",
				platformlogging.ChatbotID(flag.ChatbotID))
			continue
		}
		return slot, nil
	}
	return Slot{}, ErrPoolExhausted
}

// Reserve marks snapshot as held by chatbotID. snapshot must be the record returned by
// FindAvailableSlot; any change since then is reported as ErrRaceLost.
func (r *Registry) Reserve(ctx context.Context, snapshot Slot, chatbotID string) (Slot, error) {
	chatbotID = strings.TrimSpace(chatbotID)
	if chatbotID == "" {
		return Slot{}, fmt.Errorf("%w: chatbot id is required", ErrValidation)
	}
	logger := r.log(ctx, snapshot).With(platformlogging.ChatbotID(chatbotID))

	if err := r.checkUnchanged(ctx, snapshot); err != nil {
		return Slot{}, err
	}

	unlock := r.locks.lock(snapshot.SlotID)
	defer unlock()

	// Re-check under the lock: another reservation in this process may have just finished.
	if err := r.checkUnchanged(ctx, snapshot); err != nil {
		return Slot{}, err
	}
	flag, err := r.flags.Read(ctx, snapshot.ProjectID)
	if err != nil {
		return Slot{}, fmt.Errorf("read slot flag: %w", err)
	}
	if flag.InUse {
		logger.Warn("slot flag already held", zap.String("flag_owner", flag.ChatbotID))
		return Slot{}, ErrRaceLost
	}

	if err := r.flags.Write(ctx, snapshot.ProjectID, Flag{InUse: true, ChatbotID: chatbotID}); err != nil {
		return Slot{}, fmt.Errorf("lock slot flag: %w", err)
	}

	now := r.now()
	next := snapshot
	next.Status = StatusInUse
	next.ChatbotID = chatbotID
	next.DeployedAt = nil
	next.DeploymentURL = ""
	next.LastCheckedAt = &now
	next.UpdatedBy = requesttrace.Actor(ctx)

	updated, err := r.central.CompareAndSwap(ctx, next, snapshot.Version)
	switch {
	case err == nil:
		logger.Info("slot reserved")
		return updated, nil
	case errors.Is(err, ErrVersionConflict):
		r.restoreFlag(ctx, snapshot, logger)
		return Slot{}, ErrRaceLost
	case errors.Is(err, ErrDuplicate):
		// The chatbot already holds another slot; the central record did not move.
		r.restoreFlag(ctx, snapshot, logger)
		return Slot{}, fmt.Errorf("%w: chatbot %s already holds a slot", ErrDuplicate, chatbotID)
	default:
		logger.Error("central record update failed after flag lock; slot stays locked until reconciliation", zap.Error(err))
		return Slot{}, fmt.Errorf("record reservation: %w", err)
	}
}

func (r *Registry) checkUnchanged(ctx context.Context, snapshot Slot) error {
	current, err := r.central.Get(ctx, snapshot.SlotID)
	if err != nil {
		return err
	}
	if current.Version != snapshot.Version || current.Status != StatusAvailable {
		return ErrRaceLost
	}
	return nil
}

// restoreFlag rewrites the flag to mirror the fresh central record after a failed swap.
func (r *Registry) restoreFlag(ctx context.Context, snapshot Slot, logger *zap.Logger) {
	fresh, err := r.central.Get(ctx, snapshot.SlotID)
	if err != nil {
		logger.Error("re-read central record to restore flag", zap.Error(err))
		return
	}
	if err := r.flags.Write(ctx, fresh.ProjectID, flagFor(fresh)); err != nil {
		logger.Error("restore slot flag", zap.Error(err))
	}
}

// Release returns slotID to the pool: central record first, then the flag.
// Releasing an available slot is a no-op.
func (r *Registry) Release(ctx context.Context, slotID string) error {
	unlock := r.locks.lock(slotID)
	defer unlock()

	var released Slot
	err := r.update(ctx, slotID, func(current Slot) (Slot, bool, error) {
		switch current.Status {
		case StatusAvailable:
			return current, false, nil
		case StatusInUse:
		default:
			return current, false, fmt.Errorf("%w: cannot release a %s slot", ErrInvalidTransition, current.Status)
		}
		next := current
		next.Status = StatusAvailable
		next.ChatbotID = ""
		next.DeployedAt = nil
		next.DeploymentURL = ""
		return next, true, nil
	}, &released)
	if err != nil {
		return err
	}
	if released.SlotID == "" {
		return nil
	}

	logger := r.log(ctx, released)
	if err := r.flags.Write(ctx, released.ProjectID, Flag{}); err != nil {
		logger.Error("central record released but flag still in use", zap.Error(err))
		return fmt.Errorf("clear slot flag: %w", err)
	}
	logger.Info("slot released")
	return nil
}

// SetStatus applies an operator status change. Moving a slot back to available requires a
// free flag; in-use is only reachable through allocation.
func (r *Registry) SetStatus(ctx context.Context, slotID string, status Status) (Slot, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return Slot{}, err
	}
	if status == StatusInUse {
		return Slot{}, fmt.Errorf("%w: slots become in-use only through allocation", ErrInvalidTransition)
	}

	unlock := r.locks.lock(slotID)
	defer unlock()

	var updated Slot
	err := r.update(ctx, slotID, func(current Slot) (Slot, bool, error) {
		if current.Status == status {
			updated = current
			return current, false, nil
		}
		next := current
		next.Status = status
		if status == StatusAvailable {
			flag, err := r.flags.Read(ctx, current.ProjectID)
			if err != nil {
				return current, false, fmt.Errorf("read slot flag: %w", err)
			}
			if flag.InUse {
				return current, false, fmt.Errorf("%w: flag is held by %s", ErrReconciliationMismatch, flag.ChatbotID)
			}
			next.ChatbotID = ""
			next.DeployedAt = nil
			next.DeploymentURL = ""
		}
		return next, true, nil
	}, &updated)
	if err != nil {
		return Slot{}, err
	}
	r.log(ctx, updated).Info("slot status set", zap.String("status", string(updated.Status)))
	return updated, nil
}

// ForceClearFlag resets the flag of a slot whose central record is not in use. It is the
// operator's tool after forensic review of a central-available/flag-in-use mismatch.
func (r *Registry) ForceClearFlag(ctx context.Context, slotID string) error {
	unlock := r.locks.lock(slotID)
	defer unlock()

	slot, err := r.central.Get(ctx, slotID)
	if err != nil {
		return err
	}
	if slot.Status == StatusInUse {
		return fmt.Errorf("%w: slot is in use by %s", ErrInvalidTransition, slot.ChatbotID)
	}
	if err := r.flags.Write(ctx, slot.ProjectID, Flag{}); err != nil {
		return fmt.Errorf("clear slot flag: %w", err)
	}
	r.log(ctx, slot).Warn("slot flag force-cleared", zap.String("actor", requesttrace.Actor(ctx)))
	return nil
}

// RecordDeployment stores the public URL of the slot's promoted deployment.
func (r *Registry) RecordDeployment(ctx context.Context, slotID, url string, at time.Time) (Slot, error) {
	var updated Slot
	err := r.update(ctx, slotID, func(current Slot) (Slot, bool, error) {
		if current.Status != StatusInUse {
			return current, false, fmt.Errorf("%w: slot is %s", ErrInvalidTransition, current.Status)
		}
		deployedAt := at.UTC()
		next := current
		next.DeployedAt = &deployedAt
		next.DeploymentURL = url
		return next, true, nil
	}, &updated)
	if err != nil {
		return Slot{}, err
	}
	return updated, nil
}

// update runs a bounded read-modify-write loop on the central record. mutate returns
// false when nothing needs writing.
func (r *Registry) update(ctx context.Context, slotID string, mutate func(Slot) (Slot, bool, error), out *Slot) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		current, err := r.central.Get(ctx, slotID)
		if err != nil {
			return err
		}
		next, write, err := mutate(current)
		if err != nil {
			return err
		}
		if !write {
			return nil
		}
		next.UpdatedBy = requesttrace.Actor(ctx)

		updated, err := r.central.CompareAndSwap(ctx, next, current.Version)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return err
		}
		*out = updated
		return nil
	}
	return ErrVersionConflict
}

// slotLocks hands out one mutex per slot id so different slots never block each other.
type slotLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *slotLocks) lock(slotID string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[slotID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[slotID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
