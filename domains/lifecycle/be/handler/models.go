package handler

import (
	"strings"
	"time"

	"github.com/google/uuid"

	deployments "github.com/zenGate-Global/tenant-pool/domains/deployments/be/service"
	pool "github.com/zenGate-Global/tenant-pool/domains/pool/be/service"
)

// ProblemDetails is an RFC 7807 body. Diagnostic carries provider output for operators.
type ProblemDetails struct {
	Type       *string `json:"type,omitempty"`
	Title      string  `json:"title"`
	Status     int     `json:"status"`
	Detail     *string `json:"detail,omitempty"`
	Diagnostic *string `json:"diagnostic,omitempty"`
}

type AllocationRequest struct {
	ChatbotID string `json:"chatbotId"`
}

type SlotUpdate struct {
	Status string `json:"status"`
}

type ReconcileRequest struct {
	Quarantine bool `json:"quarantine"`
}

type DeploymentRequest struct {
	SlotID string                   `json:"slotId"`
	Config deployments.TenantConfig `json:"config"`
}

type CredentialTestRequest struct {
	APIKey string `json:"apiKey,omitempty"`
}

type Slot struct {
	SlotID        string     `json:"slotId"`
	ProjectID     string     `json:"projectId"`
	Status        string     `json:"status"`
	ChatbotID     *string    `json:"chatbotId,omitempty"`
	DeployedAt    *time.Time `json:"deployedAt,omitempty"`
	DeploymentURL *string    `json:"deploymentUrl,omitempty"`
	LastCheckedAt *time.Time `json:"lastCheckedAt,omitempty"`
	Version       int64      `json:"version"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

type SlotList struct {
	Items []Slot `json:"items"`
}

type Mismatch struct {
	SlotID           string  `json:"slotId"`
	ProjectID        string  `json:"projectId"`
	Kind             string  `json:"kind"`
	CentralStatus    string  `json:"centralStatus"`
	CentralChatbotID *string `json:"centralChatbotId,omitempty"`
	FlagChatbotID    *string `json:"flagChatbotId,omitempty"`
	Detail           *string `json:"detail,omitempty"`
	Quarantined      bool    `json:"quarantined"`
}

type ReconcileReport struct {
	Checked    int        `json:"checked"`
	Mismatches []Mismatch `json:"mismatches"`
}

type Deployment struct {
	DeploymentID uuid.UUID `json:"deploymentId"`
	SlotID       string    `json:"slotId"`
	ChatbotID    string    `json:"chatbotId"`
	Status       string    `json:"status"`
	URL          *string   `json:"url,omitempty"`
	Clean        bool      `json:"clean"`
	RawBuildURL  *string   `json:"rawBuildUrl,omitempty"`
	Message      *string   `json:"message,omitempty"`
	Diagnostic   *string   `json:"diagnostic,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func toAPISlot(slot pool.Slot) Slot {
	return Slot{
		SlotID:        slot.SlotID,
		ProjectID:     slot.ProjectID,
		Status:        string(slot.Status),
		ChatbotID:     optional(slot.ChatbotID),
		DeployedAt:    slot.DeployedAt,
		DeploymentURL: optional(slot.DeploymentURL),
		LastCheckedAt: slot.LastCheckedAt,
		Version:       slot.Version,
		UpdatedAt:     slot.UpdatedAt,
	}
}

func toAPIReconcileReport(report pool.ReconcileReport) ReconcileReport {
	out := ReconcileReport{Checked: report.Checked, Mismatches: make([]Mismatch, 0, len(report.Mismatches))}
	for _, m := range report.Mismatches {
		out.Mismatches = append(out.Mismatches, Mismatch{
			SlotID:           m.SlotID,
			ProjectID:        m.ProjectID,
			Kind:             string(m.Kind),
			CentralStatus:    string(m.CentralStatus),
			CentralChatbotID: optional(m.CentralChatbot),
			FlagChatbotID:    optional(m.FlagChatbot),
			Detail:           optional(m.Detail),
			Quarantined:      m.Quarantined,
		})
	}
	return out
}

// toAPIDeployment hides provider output behind the generic message; the raw text is only
// in the diagnostic field.
func toAPIDeployment(dep deployments.Deployment) Deployment {
	out := Deployment{
		DeploymentID: dep.ID,
		SlotID:       dep.SlotID,
		ChatbotID:    dep.ChatbotID,
		Status:       string(dep.State),
		URL:          optional(dep.ResolvedURL),
		Clean:        dep.Clean,
		RawBuildURL:  optional(dep.RawBuildURL),
		CreatedAt:    dep.CreatedAt,
		UpdatedAt:    dep.UpdatedAt,
	}
	if dep.State == deployments.StateFailed {
		msg := deploymentFailedDetail
		out.Message = &msg
		out.Diagnostic = diagnosticOf(dep.FailureReason, dep.ProviderMessage)
	}
	return out
}

func diagnosticOf(reason, providerMessage string) *string {
	parts := make([]string, 0, 2)
	for _, p := range []string{reason, providerMessage} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return optional(strings.Join(parts, ": "))
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
