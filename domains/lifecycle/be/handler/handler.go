package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"
	"go.uber.org/zap"

	credentials "github.com/zenGate-Global/tenant-pool/domains/credentials/be/service"
	deployments "github.com/zenGate-Global/tenant-pool/domains/deployments/be/service"
	lifecycle "github.com/zenGate-Global/tenant-pool/domains/lifecycle/be/service"
	pool "github.com/zenGate-Global/tenant-pool/domains/pool/be/service"
	teardown "github.com/zenGate-Global/tenant-pool/domains/teardown/be/service"
	platformlogging "github.com/zenGate-Global/tenant-pool/platform/go/logging"
)

const (
	problemTypeValidation  = "https://tenant-pool.dev/problems/validation-error"
	problemTypeNotFound    = "https://tenant-pool.dev/problems/not-found"
	problemTypeConflict    = "https://tenant-pool.dev/problems/conflict"
	problemTypeNoCapacity  = "https://tenant-pool.dev/problems/no-capacity"
	problemTypeUnavailable = "https://tenant-pool.dev/problems/unavailable"
	problemTypeDeployment  = "https://tenant-pool.dev/problems/deployment-failed"
	problemTypeInternal    = "https://tenant-pool.dev/problems/internal-error"
)

// User-facing texts. Provider detail only goes into the diagnostic field.
const (
	noCapacityDetail       = "no capacity available, try again later"
	deploymentFailedDetail = "deployment failed, please retry"
)

const maxBodyBytes = 1 << 20

type operation string

const (
	allocateOperation        operation = "poolAllocate"
	slotsListOperation       operation = "poolSlotsList"
	slotUpdateOperation      operation = "poolSlotUpdate"
	slotReleaseOperation     operation = "poolSlotRelease"
	slotClearFlagOperation   operation = "poolSlotClearFlag"
	reconcileOperation       operation = "poolReconcile"
	deployOperation          operation = "deploymentsCreate"
	deploymentGetOperation   operation = "deploymentsGet"
	teardownOperation        operation = "chatbotsDelete"
	credentialsTestOperation operation = "credentialsTest"
	cacheClearOperation      operation = "credentialsCacheClear"
)

// Service is the lifecycle surface the HTTP layer exposes.
type Service interface {
	Allocate(ctx context.Context, chatbotID string) (lifecycle.Allocation, error)
	StartDeploy(ctx context.Context, slotID string, cfg deployments.TenantConfig) (deployments.Deployment, error)
	GetDeployment(ctx context.Context, id uuid.UUID) (deployments.Deployment, error)
	Teardown(ctx context.Context, chatbotID string, opts teardown.Options) (teardown.Report, error)
	ListSlots(ctx context.Context, status *pool.Status) ([]pool.Slot, error)
	SetSlotStatus(ctx context.Context, slotID string, status pool.Status) (pool.Slot, error)
	ReleaseSlot(ctx context.Context, slotID string) (pool.Slot, error)
	ClearSlotFlag(ctx context.Context, slotID string) error
	Reconcile(ctx context.Context, quarantine bool) (pool.ReconcileReport, error)
	TestCredentials(ctx context.Context, projectID, apiKey string) (lifecycle.CredentialCheck, error)
	ClearCredentialCache(ctx context.Context, projectID string) error
}

// Handler serves the pool contract.
type Handler struct {
	svc    Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("lifecycle service is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	return &Handler{svc: svc, logger: logger}
}

// Routes mounts every operation of contracts/pool.yaml on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/pool/allocations", h.PoolAllocate)
	r.Get("/pool/slots", h.PoolSlotsList)
	r.Patch("/pool/slots/{slotId}", h.PoolSlotUpdate)
	r.Post("/pool/slots/{slotId}/release", h.PoolSlotRelease)
	r.Post("/pool/slots/{slotId}/clear-flag", h.PoolSlotClearFlag)
	r.Post("/pool/reconcile", h.PoolReconcile)
	r.Post("/deployments", h.DeploymentsCreate)
	r.Get("/deployments/{deploymentId}", h.DeploymentsGet)
	r.Delete("/chatbots/{chatbotId}", h.ChatbotsDelete)
	r.Post("/credentials/{projectId}/test", h.CredentialsTest)
	r.Delete("/credentials/cache", h.CredentialsCacheClear)
}

func (h *Handler) PoolAllocate(w http.ResponseWriter, r *http.Request) {
	var body AllocationRequest
	if err := decodeBody(r, &body, true); err != nil {
		h.writeError(w, r, err, allocateOperation)
		return
	}

	alloc, err := h.svc.Allocate(r.Context(), body.ChatbotID)
	if err != nil {
		h.writeError(w, r, err, allocateOperation)
		return
	}

	writeJSON(w, http.StatusCreated, alloc)
}

func (h *Handler) PoolSlotsList(w http.ResponseWriter, r *http.Request) {
	var raw *string
	if err := runtime.BindQueryParameter("form", true, false, "status", r.URL.Query(), &raw); err != nil {
		h.writeError(w, r, bindError(err), slotsListOperation)
		return
	}

	var status *pool.Status
	if raw != nil {
		parsed, err := pool.ParseStatus(*raw)
		if err != nil {
			h.writeError(w, r, err, slotsListOperation)
			return
		}
		status = &parsed
	}

	slots, err := h.svc.ListSlots(r.Context(), status)
	if err != nil {
		h.writeError(w, r, err, slotsListOperation)
		return
	}

	items := make([]Slot, 0, len(slots))
	for _, slot := range slots {
		items = append(items, toAPISlot(slot))
	}
	writeJSON(w, http.StatusOK, SlotList{Items: items})
}

func (h *Handler) PoolSlotUpdate(w http.ResponseWriter, r *http.Request) {
	slotID, err := pathString(r, "slotId")
	if err != nil {
		h.writeError(w, r, err, slotUpdateOperation)
		return
	}

	var body SlotUpdate
	if err := decodeBody(r, &body, true); err != nil {
		h.writeError(w, r, err, slotUpdateOperation)
		return
	}
	status, err := pool.ParseStatus(body.Status)
	if err != nil {
		h.writeError(w, r, err, slotUpdateOperation)
		return
	}

	slot, err := h.svc.SetSlotStatus(r.Context(), slotID, status)
	if err != nil {
		h.writeError(w, r, err, slotUpdateOperation)
		return
	}
	writeJSON(w, http.StatusOK, toAPISlot(slot))
}

func (h *Handler) PoolSlotRelease(w http.ResponseWriter, r *http.Request) {
	slotID, err := pathString(r, "slotId")
	if err != nil {
		h.writeError(w, r, err, slotReleaseOperation)
		return
	}

	slot, err := h.svc.ReleaseSlot(r.Context(), slotID)
	if err != nil {
		h.writeError(w, r, err, slotReleaseOperation)
		return
	}
	writeJSON(w, http.StatusOK, toAPISlot(slot))
}

func (h *Handler) PoolSlotClearFlag(w http.ResponseWriter, r *http.Request) {
	slotID, err := pathString(r, "slotId")
	if err != nil {
		h.writeError(w, r, err, slotClearFlagOperation)
		return
	}

	if err := h.svc.ClearSlotFlag(r.Context(), slotID); err != nil {
		h.writeError(w, r, err, slotClearFlagOperation)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) PoolReconcile(w http.ResponseWriter, r *http.Request) {
	var body ReconcileRequest
	if err := decodeBody(r, &body, false); err != nil {
		h.writeError(w, r, err, reconcileOperation)
		return
	}

	report, err := h.svc.Reconcile(r.Context(), body.Quarantine)
	if err != nil {
		h.writeError(w, r, err, reconcileOperation)
		return
	}
	writeJSON(w, http.StatusOK, toAPIReconcileReport(report))
}

func (h *Handler) DeploymentsCreate(w http.ResponseWriter, r *http.Request) {
	var body DeploymentRequest
	if err := decodeBody(r, &body, true); err != nil {
		h.writeError(w, r, err, deployOperation)
		return
	}

	dep, err := h.svc.StartDeploy(r.Context(), body.SlotID, body.Config)
	if err != nil {
		h.writeError(w, r, err, deployOperation)
		return
	}

	w.Header().Set("Location", "/api/v1/deployments/"+dep.ID.String())
	writeJSON(w, http.StatusAccepted, toAPIDeployment(dep))
}

func (h *Handler) DeploymentsGet(w http.ResponseWriter, r *http.Request) {
	var id uuid.UUID
	err := runtime.BindStyledParameterWithOptions("simple", "deploymentId", chi.URLParam(r, "deploymentId"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		h.writeError(w, r, bindError(err), deploymentGetOperation)
		return
	}

	dep, err := h.svc.GetDeployment(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, deploymentGetOperation)
		return
	}
	writeJSON(w, http.StatusOK, toAPIDeployment(dep))
}

// ChatbotsDelete answers 200 for a complete teardown and 207 when any step failed.
func (h *Handler) ChatbotsDelete(w http.ResponseWriter, r *http.Request) {
	chatbotID, err := pathString(r, "chatbotId")
	if err != nil {
		h.writeError(w, r, err, teardownOperation)
		return
	}

	opts := teardown.Options{DeleteVectors: true, DeleteGraph: true}
	query := r.URL.Query()
	for name, dest := range map[string]*bool{"deleteVectors": &opts.DeleteVectors, "deleteGraph": &opts.DeleteGraph} {
		var value *bool
		if err := runtime.BindQueryParameter("form", true, false, name, query, &value); err != nil {
			h.writeError(w, r, bindError(err), teardownOperation)
			return
		}
		if value != nil {
			*dest = *value
		}
	}

	report, err := h.svc.Teardown(r.Context(), chatbotID, opts)
	if err != nil {
		h.writeError(w, r, err, teardownOperation)
		return
	}

	status := http.StatusOK
	if report.Status == teardown.StatusPartial {
		status = http.StatusMultiStatus
		h.loggerFrom(r.Context()).Warn("teardown left data behind",
			zap.String("operation", string(teardownOperation)),
			platformlogging.ChatbotID(chatbotID),
			zap.Error(report.Err()),
		)
	}
	writeJSON(w, status, report)
}

func (h *Handler) CredentialsTest(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathString(r, "projectId")
	if err != nil {
		h.writeError(w, r, err, credentialsTestOperation)
		return
	}

	var body CredentialTestRequest
	if err := decodeBody(r, &body, false); err != nil {
		h.writeError(w, r, err, credentialsTestOperation)
		return
	}

	check, err := h.svc.TestCredentials(r.Context(), projectID, body.APIKey)
	if err != nil {
		h.writeError(w, r, err, credentialsTestOperation)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (h *Handler) CredentialsCacheClear(w http.ResponseWriter, r *http.Request) {
	var projectID *string
	if err := runtime.BindQueryParameter("form", true, false, "projectId", r.URL.Query(), &projectID); err != nil {
		h.writeError(w, r, bindError(err), cacheClearOperation)
		return
	}

	target := ""
	if projectID != nil {
		target = *projectID
	}
	if err := h.svc.ClearCredentialCache(r.Context(), target); err != nil {
		h.writeError(w, r, err, cacheClearOperation)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// errBadRequest marks malformed requests rejected before reaching the service.
var errBadRequest = errors.New("bad request")

func bindError(err error) error {
	return fmt.Errorf("%w: %v", errBadRequest, err)
}

func pathString(r *http.Request, name string) (string, error) {
	var value string
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &value,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", bindError(err)
	}
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%w: %s is required", errBadRequest, name)
	}
	return value, nil
}

// decodeBody reads a JSON body. An empty body is accepted when required is false.
func decodeBody(r *http.Request, dest any, required bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) && !required {
			return nil
		}
		return fmt.Errorf("%w: invalid request body: %v", errBadRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, op operation) {
	status, problem := h.problemForError(r.Context(), err, op)
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

func (h *Handler) problemForError(ctx context.Context, err error, op operation) (int, ProblemDetails) {
	status, title, detail, problemType := h.classifyError(err)

	logger := h.loggerFrom(ctx)
	fieldsForLog := []zap.Field{
		zap.String("operation", string(op)),
		zap.Int("status", status),
	}

	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("pool operation failed", append(fieldsForLog, zap.Error(err))...)
	case status == http.StatusNotFound:
		logger.Info("pool resource not found", append(fieldsForLog, zap.Error(err))...)
	default:
		logger.Warn("pool request rejected", append(fieldsForLog, zap.Error(err))...)
	}

	problem := buildProblem(title, detail, problemType, status)
	var depErr *deployments.DeploymentError
	if errors.As(err, &depErr) {
		problem.Diagnostic = diagnosticOf(depErr.Reason, depErr.ProviderMessage)
	}
	return status, problem
}

func (h *Handler) classifyError(err error) (status int, title, detail, problemType string) {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, pool.ErrValidation),
		errors.Is(err, deployments.ErrValidation),
		errors.Is(err, teardown.ErrValidation),
		errors.Is(err, credentials.ErrValidation),
		errors.Is(err, lifecycle.ErrValidation):
		return http.StatusBadRequest, "Validation failed", err.Error(), problemTypeValidation
	case errors.Is(err, pool.ErrNotFound):
		return http.StatusNotFound, "Resource not found", "slot not found", problemTypeNotFound
	case errors.Is(err, deployments.ErrNotFound):
		return http.StatusNotFound, "Resource not found", "deployment not found", problemTypeNotFound
	case errors.Is(err, pool.ErrPoolExhausted):
		return http.StatusServiceUnavailable, "No capacity", noCapacityDetail, problemTypeNoCapacity
	case errors.Is(err, pool.ErrRaceLost):
		return http.StatusConflict, "Conflict", "slot was taken by a concurrent request, try again", problemTypeConflict
	case errors.Is(err, pool.ErrInvalidTransition),
		errors.Is(err, pool.ErrVersionConflict),
		errors.Is(err, pool.ErrDuplicate),
		errors.Is(err, pool.ErrReconciliationMismatch):
		return http.StatusConflict, "Conflict", err.Error(), problemTypeConflict
	case errors.Is(err, credentials.ErrNoValidCredentials):
		return http.StatusServiceUnavailable, "Credentials unavailable", "project credentials are not available yet, try again later", problemTypeUnavailable
	case errors.Is(err, deployments.ErrDeploymentFailed):
		return http.StatusBadGateway, "Deployment failed", deploymentFailedDetail, problemTypeDeployment
	case errors.Is(err, lifecycle.ErrUnavailable):
		return http.StatusServiceUnavailable, "Service unavailable", "the service is shutting down, try again later", problemTypeUnavailable
	default:
		return http.StatusInternalServerError, "Internal server error", "an unexpected error occurred", problemTypeInternal
	}
}

func buildProblem(title, detail, problemType string, status int) ProblemDetails {
	problem := ProblemDetails{
		Title:  title,
		Status: status,
	}

	if detail != "" {
		problem.Detail = &detail
	}
	if problemType != "" {
		problem.Type = &problemType
	}

	return problem
}

func (h *Handler) loggerFrom(ctx context.Context) *zap.Logger {
	if logger, ok := platformlogging.FromContext(ctx); ok {
		return logger
	}
	return h.logger
}
