package requesttrace

import (
	"context"
	"errors"

	platformauth "github.com/zenGate-Global/tenant-pool/platform/go/auth"
)

type contextKey string

const (
	ctxAuditInfo contextKey = "TENANT_POOL_REQUEST_TRACE"
)

// ActorKind represents who initiated a request.
type ActorKind string

const (
	ActorKindOperator  ActorKind = "operator"
	ActorKindAnonymous ActorKind = "anonymous"
	ActorKindSystem    ActorKind = "system"
)

// AuditInfo captures request-scoped metadata used to stamp updated_by on slot records.
// OperatorID is set only when ActorKind is operator. For system actors Component names the caller.
type AuditInfo struct {
	ActorKind  ActorKind
	OperatorID *string
	Component  string
	RequestID  string
}

// Actor renders the value written to updated_by columns.
func (a AuditInfo) Actor() string {
	switch a.ActorKind {
	case ActorKindOperator:
		if a.OperatorID != nil && *a.OperatorID != "" {
			return "operator:" + *a.OperatorID
		}
	case ActorKindSystem:
		if a.Component != "" {
			return "system:" + a.Component
		}
		return "system"
	}
	return string(ActorKindAnonymous)
}

// IntoContext stores the AuditInfo in the provided context.
func IntoContext(ctx context.Context, audit AuditInfo) context.Context {
	return context.WithValue(ctx, ctxAuditInfo, audit)
}

// FromContext extracts the AuditInfo from context, returning false when not present.
func FromContext(ctx context.Context) (AuditInfo, bool) {
	if ctx == nil {
		return AuditInfo{}, false
	}
	v := ctx.Value(ctxAuditInfo)
	if v == nil {
		return AuditInfo{}, false
	}

	audit, ok := v.(AuditInfo)
	return audit, ok
}

// FromContextOrAnonymous returns the AuditInfo stored on the context, or an anonymous record when absent.
func FromContextOrAnonymous(ctx context.Context) AuditInfo {
	if audit, ok := FromContext(ctx); ok {
		return audit
	}
	return Anonymous("")
}

// Actor is shorthand for FromContextOrAnonymous(ctx).Actor().
func Actor(ctx context.Context) string {
	return FromContextOrAnonymous(ctx).Actor()
}

// FromCredentials builds an AuditInfo from authenticated operator credentials and a request ID.
// Returns an error when creds are nil or missing an Id.
func FromCredentials(creds *platformauth.OperatorCredentials, requestID string) (AuditInfo, error) {
	if creds == nil {
		return AuditInfo{}, errors.New("credentials are required to build audit info")
	}
	if creds.Id == "" {
		return AuditInfo{}, errors.New("operator id is required to build audit info")
	}

	return AuditInfo{
		ActorKind:  ActorKindOperator,
		OperatorID: &creds.Id,
		RequestID:  requestID,
	}, nil
}

// Anonymous builds an AuditInfo for unauthenticated requests such as health probes.
func Anonymous(requestID string) AuditInfo {
	return AuditInfo{ActorKind: ActorKindAnonymous, RequestID: requestID}
}

// System builds an AuditInfo for background work (async deployments, the CLI).
func System(component, requestID string) AuditInfo {
	return AuditInfo{ActorKind: ActorKindSystem, Component: component, RequestID: requestID}
}
