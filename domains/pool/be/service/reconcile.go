package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	platformlogging "github.com/zenGate-Global/tenant-pool/platform/go/logging"
	"github.com/zenGate-Global/tenant-pool/platform/go/metrics"
)

// MismatchKind names how the two sources of a slot disagree.
type MismatchKind string

const (
	MismatchCentralAvailableFlagInUse MismatchKind = "central_available_flag_in_use"
	MismatchCentralInUseFlagAvailable MismatchKind = "central_in_use_flag_available"
	MismatchOwner                     MismatchKind = "owner_mismatch"
	MismatchFlagUnreadable            MismatchKind = "flag_unreadable"
)

// Mismatch describes one slot whose central record and flag disagree.
type Mismatch struct {
	SlotID         string       `json:"slotId"`
	ProjectID      string       `json:"projectId"`
	Kind           MismatchKind `json:"kind"`
	CentralStatus  Status       `json:"centralStatus"`
	CentralChatbot string       `json:"centralChatbot,omitempty"`
	FlagChatbot    string       `json:"flagChatbot,omitempty"`
	Detail         string       `json:"detail,omitempty"`
	Quarantined    bool         `json:"quarantined"`
}

func (m Mismatch) Error() string {
	msg := fmt.Sprintf("slot %s: %s (central=%s", m.SlotID, m.Kind, m.CentralStatus)
	if m.CentralChatbot != "" {
		msg += "/" + m.CentralChatbot
	}
	if m.FlagChatbot != "" {
		msg += ", flag=in-use/" + m.FlagChatbot
	}
	msg += ")"
	if m.Detail != "" {
		msg += ": " + m.Detail
	}
	return msg
}

func (m Mismatch) Is(target error) bool { return target == ErrReconciliationMismatch }

// ReconcileOptions controls a reconciliation pass.
type ReconcileOptions struct {
	// Quarantine moves mismatched slots to maintenance.
	Quarantine bool
}

// ReconcileReport summarises a pass.
type ReconcileReport struct {
	Checked    int        `json:"checked"`
	Mismatches []Mismatch `json:"mismatches"`
}

// Err returns nil when every slot agreed, otherwise a multi-error of Mismatch values.
func (r ReconcileReport) Err() error {
	if len(r.Mismatches) == 0 {
		return nil
	}
	var result *multierror.Error
	for _, m := range r.Mismatches {
		result = multierror.Append(result, m)
	}
	return result
}

// Compare classifies a central record against a flag read. It never suggests a resolution.
func Compare(slot Slot, flag Flag, flagErr error) (Mismatch, bool) {
	m := Mismatch{
		SlotID:         slot.SlotID,
		ProjectID:      slot.ProjectID,
		CentralStatus:  slot.Status,
		CentralChatbot: slot.ChatbotID,
	}
	if flagErr != nil {
		m.Kind = MismatchFlagUnreadable
		m.Detail = flagErr.Error()
		return m, true
	}
	m.FlagChatbot = flag.ChatbotID

	switch slot.Status {
	case StatusAvailable:
		if flag.InUse {
			m.Kind = MismatchCentralAvailableFlagInUse
			return m, true
		}
	case StatusInUse:
		if !flag.InUse {
			m.Kind = MismatchCentralInUseFlagAvailable
			return m, true
		}
		if flag.ChatbotID != slot.ChatbotID {
			m.Kind = MismatchOwner
			return m, true
		}
	}
	return Mismatch{}, false
}

// Reconcile compares every active slot's sources. Maintenance and deprecated slots are
// out of rotation and are not compared. Nothing is ever resolved toward available.
func (r *Registry) Reconcile(ctx context.Context, opts ReconcileOptions) (ReconcileReport, error) {
	slots, err := r.central.List(ctx, nil)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("list slots: %w", err)
	}

	var report ReconcileReport
	for _, listed := range slots {
		if listed.Status != StatusAvailable && listed.Status != StatusInUse {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		mismatch, checked, found := r.reconcileSlot(ctx, listed, opts.Quarantine)
		if checked {
			report.Checked++
		}
		if found {
			report.Mismatches = append(report.Mismatches, mismatch)
		}
	}

	r.logger.Info("reconciliation finished",
		zap.Int("checked", report.Checked), zap.Int("mismatches", len(report.Mismatches)))
	return report, nil
}

// reconcileSlot compares one slot under its lock, re-reading the central record so a
// reservation that finished after the listing is not reported.
func (r *Registry) reconcileSlot(ctx context.Context, listed Slot, quarantine bool) (Mismatch, bool, bool) {
	unlock := r.locks.lock(listed.SlotID)
	defer unlock()

	slot, err := r.central.Get(ctx, listed.SlotID)
	switch {
	case errors.Is(err, ErrNotFound):
		return Mismatch{}, false, false
	case err != nil:
		r.log(ctx, listed).Warn("re-read slot, using listed record", zap.Error(err))
		slot = listed
	}
	if slot.Status != StatusAvailable && slot.Status != StatusInUse {
		return Mismatch{}, false, false
	}
	logger := r.log(ctx, slot)

	flag, flagErr := r.flags.Read(ctx, slot.ProjectID)
	if err := r.central.MarkChecked(ctx, slot.SlotID, r.now()); err != nil && !errors.Is(err, ErrNotFound) {
		logger.Warn("stamp last checked", zap.Error(err))
	}

	mismatch, found := Compare(slot, flag, flagErr)
	if !found {
		return Mismatch{}, true, false
	}
	metrics.RecordMismatch(string(mismatch.Kind))

	if quarantine {
		if _, err := r.quarantineLocked(ctx, slot.SlotID); err != nil {
			logger.Error("quarantine slot", zap.Error(err))
			mismatch.Detail = joinDetail(mismatch.Detail, "quarantine failed: "+err.Error())
		} else {
			mismatch.Quarantined = true
		}
	}

	logger.Warn("slot sources disagree",
		zap.String("kind", string(mismatch.Kind)),
		platformlogging.ChatbotID(slot.ChatbotID),
		zap.String("flag_owner", mismatch.FlagChatbot),
		zap.Bool("quarantined", mismatch.Quarantined))
	return mismatch, true, true
}

// quarantineLocked moves a slot to maintenance. The caller holds the slot lock.
func (r *Registry) quarantineLocked(ctx context.Context, slotID string) (Slot, error) {
	var updated Slot
	err := r.update(ctx, slotID, func(current Slot) (Slot, bool, error) {
		if current.Status == StatusMaintenance {
			return current, false, nil
		}
		next := current
		next.Status = StatusMaintenance
		return next, true, nil
	}, &updated)
	return updated, err
}

func joinDetail(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
