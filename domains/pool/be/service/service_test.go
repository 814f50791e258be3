package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/tenant-pool/domains/pool/be/flags"
	"github.com/zenGate-Global/tenant-pool/domains/pool/be/repo"
	"github.com/zenGate-Global/tenant-pool/domains/pool/be/service"
	"github.com/zenGate-Global/tenant-pool/platform/go/requesttrace"
	"github.com/zenGate-Global/tenant-pool/platform/go/retry/retrytest"
)

// scriptedCentral lets a test run code in place of the next CompareAndSwap, or right
// after the next List.
type scriptedCentral struct {
	*repo.MemoryRepository
	mu        sync.Mutex
	before    func(next service.Slot, expected int64) error
	afterList func()
}

func (c *scriptedCentral) List(ctx context.Context, status *service.Status) ([]service.Slot, error) {
	out, err := c.MemoryRepository.List(ctx, status)

	c.mu.Lock()
	hook := c.afterList
	c.afterList = nil
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return out, err
}

func (c *scriptedCentral) onNextList(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.afterList = fn
}

func (c *scriptedCentral) CompareAndSwap(ctx context.Context, next service.Slot, expected int64) (service.Slot, error) {
	c.mu.Lock()
	hook := c.before
	c.before = nil
	c.mu.Unlock()

	if hook != nil {
		if err := hook(next, expected); err != nil {
			return service.Slot{}, err
		}
	}
	return c.MemoryRepository.CompareAndSwap(ctx, next, expected)
}

func (c *scriptedCentral) onNextSwap(fn func(next service.Slot, expected int64) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.before = fn
}

type fixture struct {
	central   *scriptedCentral
	flags     *flags.MemoryFlags
	registry  *service.Registry
	allocator *service.Allocator
}

func newFixture(t *testing.T, slots int) fixture {
	t.Helper()

	central := &scriptedCentral{MemoryRepository: repo.NewMemoryRepository()}
	flagStore := flags.NewMemoryFlags()
	clock := retrytest.NewInstantClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	logger := zaptest.NewLogger(t)

	registry := service.NewRegistry(central, flagStore, clock, logger)
	ctx := requesttrace.IntoContext(context.Background(), requesttrace.System("test", ""))
	for i := 1; i <= slots; i++ {
		_, err := registry.Register(ctx, fmt.Sprintf("pool-%03d", i), fmt.Sprintf("project-%03d", i))
		require.NoError(t, err)
	}

	return fixture{
		central:   central,
		flags:     flagStore,
		registry:  registry,
		allocator: service.NewAllocator(registry, time.Second, logger),
	}
}

func (f fixture) flag(t *testing.T, projectID string) service.Flag {
	t.Helper()
	flag, err := f.flags.Read(context.Background(), projectID)
	require.NoError(t, err)
	return flag
}

func TestAllocatePicksLowestSlotAndIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	ctx := context.Background()

	slot, err := f.allocator.Allocate(ctx, "bot-a")
	require.NoError(t, err)
	require.Equal(t, "pool-001", slot.SlotID)
	require.Equal(t, service.StatusInUse, slot.Status)
	require.Equal(t, "bot-a", slot.ChatbotID)
	require.Equal(t, service.Flag{InUse: true, ChatbotID: "bot-a"}, f.flag(t, "project-001"))

	again, err := f.allocator.Allocate(ctx, "bot-a")
	require.NoError(t, err)
	require.Equal(t, slot.SlotID, again.SlotID)

	next, err := f.allocator.Allocate(ctx, "bot-b")
	require.NoError(t, err)
	require.Equal(t, "pool-002", next.SlotID)
}

func TestAllocateConcurrentMutualExclusion(t *testing.T) {
	t.Parallel()

	const slots, chatbots = 10, 25
	f := newFixture(t, slots)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		owners    = map[string]string{}
		exhausted int
	)
	for i := 0; i < chatbots; i++ {
		wg.Add(1)
		go func(chatbotID string) {
			defer wg.Done()
			slot, err := f.allocator.Allocate(context.Background(), chatbotID)
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, service.ErrPoolExhausted) {
				exhausted++
				return
			}
			require.NoError(t, err)
			_, taken := owners[slot.SlotID]
			require.False(t, taken, "slot %s allocated twice", slot.SlotID)
			owners[slot.SlotID] = chatbotID
		}(fmt.Sprintf("bot-%02d", i))
	}
	wg.Wait()

	require.Len(t, owners, slots)
	require.Equal(t, chatbots-slots, exhausted)

	for slotID, chatbotID := range owners {
		slot, err := f.registry.Get(context.Background(), slotID)
		require.NoError(t, err)
		require.Equal(t, chatbotID, slot.ChatbotID)
		require.Equal(t, service.Flag{InUse: true, ChatbotID: chatbotID}, f.flag(t, slot.ProjectID))
	}

	report, err := f.registry.Reconcile(context.Background(), service.ReconcileOptions{})
	require.NoError(t, err)
	require.Empty(t, report.Mismatches)
	require.NoError(t, report.Err())
}

func TestAllocateExhaustedPool(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	_, err := f.allocator.Allocate(context.Background(), "bot-a")
	require.NoError(t, err)

	_, err = f.allocator.Allocate(context.Background(), "bot-b")
	require.ErrorIs(t, err, service.ErrPoolExhausted)

	_, err = f.allocator.Allocate(context.Background(), " ")
	require.ErrorIs(t, err, service.ErrValidation)
}

func TestReserveWithStaleSnapshotLosesRace(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	ctx := context.Background()

	snapshot, err := f.registry.FindAvailableSlot(ctx)
	require.NoError(t, err)

	_, err = f.registry.Reserve(ctx, snapshot, "bot-winner")
	require.NoError(t, err)

	_, err = f.registry.Reserve(ctx, snapshot, "bot-loser")
	require.ErrorIs(t, err, service.ErrRaceLost)
	require.Equal(t, service.Flag{InUse: true, ChatbotID: "bot-winner"}, f.flag(t, snapshot.ProjectID))
}

func TestReserveRestoresFlagWhenSwapLoses(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2)
	ctx := context.Background()

	snapshot, err := f.registry.FindAvailableSlot(ctx)
	require.NoError(t, err)

	// Another process commits its central write between our flag write and our swap.
	f.central.onNextSwap(func(next service.Slot, expected int64) error {
		intruder := next
		intruder.ChatbotID = "bot-other-process"
		_, err := f.central.MemoryRepository.CompareAndSwap(ctx, intruder, expected)
		return err
	})

	_, err = f.registry.Reserve(ctx, snapshot, "bot-a")
	require.ErrorIs(t, err, service.ErrRaceLost)
	require.Equal(t, service.Flag{InUse: true, ChatbotID: "bot-other-process"}, f.flag(t, snapshot.ProjectID))

	slot, err := f.allocator.Allocate(ctx, "bot-a")
	require.NoError(t, err)
	require.Equal(t, "pool-002", slot.SlotID)
}

func TestCrashAfterFlagWriteIsDetectedAndNeverReused(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2)
	ctx := context.Background()

	f.central.onNextSwap(func(service.Slot, int64) error { return errors.New("connection reset by peer") })
	_, err := f.allocator.Allocate(ctx, "bot-crashed")
	require.ErrorContains(t, err, "connection reset by peer")

	first, err := f.registry.Get(ctx, "pool-001")
	require.NoError(t, err)
	require.Equal(t, service.StatusAvailable, first.Status)
	require.True(t, f.flag(t, first.ProjectID).InUse)

	slot, err := f.allocator.Allocate(ctx, "bot-b")
	require.NoError(t, err)
	require.Equal(t, "pool-002", slot.SlotID)

	report, err := f.registry.Reconcile(ctx, service.ReconcileOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, report.Checked)
	require.Len(t, report.Mismatches, 1)
	require.Equal(t, service.MismatchCentralAvailableFlagInUse, report.Mismatches[0].Kind)
	require.Equal(t, "bot-crashed", report.Mismatches[0].FlagChatbot)
	require.ErrorIs(t, report.Err(), service.ErrReconciliationMismatch)

	// Reporting alone changes nothing.
	after, err := f.registry.Get(ctx, "pool-001")
	require.NoError(t, err)
	require.Equal(t, service.StatusAvailable, after.Status)
	require.True(t, f.flag(t, after.ProjectID).InUse)
	require.NotNil(t, after.LastCheckedAt)
}

func TestReconcileQuarantinesMismatches(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	ctx := requesttrace.IntoContext(context.Background(), requesttrace.System("test", ""))

	_, err := f.allocator.Allocate(ctx, "bot-a")
	require.NoError(t, err)
	_, err = f.allocator.Allocate(ctx, "bot-b")
	require.NoError(t, err)

	// pool-001: flag lost; pool-002: flag owned by someone else; pool-003: unreadable.
	require.NoError(t, f.flags.Write(ctx, "project-001", service.Flag{}))
	require.NoError(t, f.flags.Write(ctx, "project-002", service.Flag{InUse: true, ChatbotID: "bot-z"}))
	f.flags.Fail("project-003", errors.New("permission denied"))

	report, err := f.registry.Reconcile(ctx, service.ReconcileOptions{Quarantine: true})
	require.NoError(t, err)
	require.Len(t, report.Mismatches, 3)

	kinds := map[string]service.MismatchKind{}
	for _, m := range report.Mismatches {
		require.True(t, m.Quarantined)
		kinds[m.SlotID] = m.Kind
	}
	require.Equal(t, map[string]service.MismatchKind{
		"pool-001": service.MismatchCentralInUseFlagAvailable,
		"pool-002": service.MismatchOwner,
		"pool-003": service.MismatchFlagUnreadable,
	}, kinds)

	slots, err := f.registry.List(ctx, nil)
	require.NoError(t, err)
	for _, slot := range slots {
		require.Equal(t, service.StatusMaintenance, slot.Status)
		require.Equal(t, "system:test", slot.UpdatedBy)
	}
	// Chatbot ownership is preserved for forensic review.
	first, err := f.registry.Get(ctx, "pool-001")
	require.NoError(t, err)
	require.Equal(t, "bot-a", first.ChatbotID)

	// Quarantined slots are skipped by later passes.
	again, err := f.registry.Reconcile(ctx, service.ReconcileOptions{})
	require.NoError(t, err)
	require.Zero(t, again.Checked)
}

func TestReleaseClearsCentralThenFlag(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	ctx := context.Background()

	slot, err := f.allocator.Allocate(ctx, "bot-a")
	require.NoError(t, err)
	_, err = f.registry.RecordDeployment(ctx, slot.SlotID, "https://bot-a.vercel.app", time.Now())
	require.NoError(t, err)

	require.NoError(t, f.registry.Release(ctx, slot.SlotID))
	released, err := f.registry.Get(ctx, slot.SlotID)
	require.NoError(t, err)
	require.Equal(t, service.StatusAvailable, released.Status)
	require.Empty(t, released.ChatbotID)
	require.Empty(t, released.DeploymentURL)
	require.Nil(t, released.DeployedAt)
	require.False(t, f.flag(t, slot.ProjectID).InUse)

	// Already available: no-op.
	require.NoError(t, f.registry.Release(ctx, slot.SlotID))
	unchanged, err := f.registry.Get(ctx, slot.SlotID)
	require.NoError(t, err)
	require.Equal(t, released.Version, unchanged.Version)

	_, err = f.registry.RecordDeployment(ctx, slot.SlotID, "https://late.vercel.app", time.Now())
	require.ErrorIs(t, err, service.ErrInvalidTransition)
}

func TestReleaseFlagFailureLeavesDetectableMismatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	ctx := context.Background()

	slot, err := f.allocator.Allocate(ctx, "bot-a")
	require.NoError(t, err)

	f.flags.Fail(slot.ProjectID, errors.New("quota exceeded"))
	require.ErrorContains(t, f.registry.Release(ctx, slot.SlotID), "quota exceeded")
	f.flags.Fail(slot.ProjectID, nil)

	report, err := f.registry.Reconcile(ctx, service.ReconcileOptions{})
	require.NoError(t, err)
	require.Len(t, report.Mismatches, 1)
	require.Equal(t, service.MismatchCentralAvailableFlagInUse, report.Mismatches[0].Kind)

	_, err = f.allocator.Allocate(ctx, "bot-b")
	require.ErrorIs(t, err, service.ErrPoolExhausted)

	require.NoError(t, f.registry.ForceClearFlag(ctx, slot.SlotID))
	next, err := f.allocator.Allocate(ctx, "bot-b")
	require.NoError(t, err)
	require.Equal(t, slot.SlotID, next.SlotID)
}

func TestOperatorStatusChanges(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2)
	ctx := context.Background()

	_, err := f.registry.SetStatus(ctx, "pool-001", service.StatusInUse)
	require.ErrorIs(t, err, service.ErrInvalidTransition)
	_, err = f.registry.SetStatus(ctx, "pool-001", service.Status("broken"))
	require.ErrorIs(t, err, service.ErrValidation)

	slot, err := f.registry.SetStatus(ctx, "pool-001", service.StatusMaintenance)
	require.NoError(t, err)
	require.Equal(t, service.StatusMaintenance, slot.Status)

	allocated, err := f.allocator.Allocate(ctx, "bot-a")
	require.NoError(t, err)
	require.Equal(t, "pool-002", allocated.SlotID)

	// A stuck flag blocks the return to available.
	require.NoError(t, f.flags.Write(ctx, "project-001", service.Flag{InUse: true, ChatbotID: "bot-ghost"}))
	_, err = f.registry.SetStatus(ctx, "pool-001", service.StatusAvailable)
	require.ErrorIs(t, err, service.ErrReconciliationMismatch)

	require.NoError(t, f.registry.ForceClearFlag(ctx, "pool-001"))
	slot, err = f.registry.SetStatus(ctx, "pool-001", service.StatusAvailable)
	require.NoError(t, err)
	require.Equal(t, service.StatusAvailable, slot.Status)

	require.ErrorIs(t, f.registry.ForceClearFlag(ctx, "pool-002"), service.ErrInvalidTransition)
	require.ErrorIs(t, f.registry.Release(ctx, "pool-404"), service.ErrNotFound)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	_, err := f.registry.Register(context.Background(), "pool-001", "project-xyz")
	require.ErrorIs(t, err, service.ErrDuplicate)
	_, err = f.registry.Register(context.Background(), "", "project-xyz")
	require.ErrorIs(t, err, service.ErrValidation)
}

func TestReconcileIgnoresReservationFinishedAfterListing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	ctx := context.Background()

	// The listing sees pool-001 available; the reservation lands before the slot is compared.
	f.central.onNextList(func() {
		_, err := f.allocator.Allocate(ctx, "bot-late")
		require.NoError(t, err)
	})

	report, err := f.registry.Reconcile(ctx, service.ReconcileOptions{Quarantine: true})
	require.NoError(t, err)
	require.Equal(t, 1, report.Checked)
	require.Empty(t, report.Mismatches)

	slot, err := f.registry.Get(ctx, "pool-001")
	require.NoError(t, err)
	require.Equal(t, service.StatusInUse, slot.Status)
	require.Equal(t, "bot-late", slot.ChatbotID)
}
