package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	pool "github.com/zenGate-Global/tenant-pool/domains/pool/be/service"
	platformlogging "github.com/zenGate-Global/tenant-pool/platform/go/logging"
	"github.com/zenGate-Global/tenant-pool/platform/go/metrics"
)

// DefaultStepTimeout bounds every step unless Config says otherwise.
const DefaultStepTimeout = 2 * time.Minute

var (
	// ErrChatbotNotFound is returned by Metadata.Get when no record exists.
	ErrChatbotNotFound = errors.New("chatbot not found")
	// ErrUnrecognisedGraphURI is returned when no instance id can be parsed from a graph URI.
	ErrUnrecognisedGraphURI = errors.New("unrecognised graph uri")
	ErrValidation           = errors.New("validation error")
)

var graphURIPattern = regexp.MustCompile(`^(?:neo4j|bolt)(?:\+s|\+ssc)?://([a-z0-9]+)\.databases\.neo4j\.io(?::\d+)?/?$`)

// GraphInstanceID parses the Aura instance id out of a connection URI such as
// neo4j+s://4f2a9c1e.databases.neo4j.io.
func GraphInstanceID(uri string) (string, error) {
	m := graphURIPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(uri)))
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrUnrecognisedGraphURI, uri)
	}
	return m[1], nil
}

// Chatbot is the metadata a teardown works from.
type Chatbot struct {
	ChatbotID   string
	SlotID      string
	GraphURI    string
	DocumentIDs []string
}

// DeleteCount is what a bulk delete reports.
type DeleteCount struct {
	Deleted int
	Failed  int
}

// Metadata reads and removes the chatbot's own record.
type Metadata interface {
	Get(ctx context.Context, chatbotID string) (Chatbot, error)
	// Delete reports false when nothing was stored.
	Delete(ctx context.Context, chatbotID string) (bool, error)
}

// VectorStore removes the chatbot's vectors. An empty documentIDs deletes everything
// tagged with the chatbot.
type VectorStore interface {
	DeleteDocuments(ctx context.Context, chatbotID string, documentIDs []string) (DeleteCount, error)
}

// ObjectStore removes the chatbot's stored document artifacts.
type ObjectStore interface {
	DeleteDocuments(ctx context.Context, chatbotID, slotID string, documentIDs []string) (DeleteCount, error)
}

// GraphStore deletes a graph instance. A missing instance is not an error.
type GraphStore interface {
	DeleteInstance(ctx context.Context, instanceID string) error
}

// SlotReleaser is the part of the pool registry a teardown needs.
type SlotReleaser interface {
	SlotForChatbot(ctx context.Context, chatbotID string) (pool.Slot, error)
	Release(ctx context.Context, slotID string) error
}

// Options selects the optional steps. Metadata is always deleted.
type Options struct {
	DeleteVectors bool
	DeleteGraph   bool
}

type Deps struct {
	Metadata Metadata
	Vectors  VectorStore
	Objects  ObjectStore
	Graph    GraphStore
	Slots    SlotReleaser
	Logger   *zap.Logger
}

type Config struct {
	StepTimeout time.Duration
}

// Coordinator deletes a tenant's data across every backing service and releases its slot.
type Coordinator struct {
	deps        Deps
	logger      *zap.Logger
	stepTimeout time.Duration
}

func NewCoordinator(deps Deps, cfg Config) *Coordinator {
	if deps.Metadata == nil || deps.Slots == nil {
		panic("metadata and slots are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.StepTimeout
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	return &Coordinator{deps: deps, logger: logger, stepTimeout: timeout}
}

// Delete runs the requested steps. Vector/object and graph steps run concurrently and
// never block each other; metadata is deleted after both settle and the slot is released
// only when that delete succeeded. A partial outcome is reported, not returned as error:
// the error return is reserved for invalid input.
func (c *Coordinator) Delete(ctx context.Context, chatbotID string, opts Options) (Report, error) {
	chatbotID = strings.TrimSpace(chatbotID)
	if chatbotID == "" {
		return Report{}, fmt.Errorf("%w: chatbot id is required", ErrValidation)
	}

	logger := platformlogging.FromContextOr(ctx, c.logger).With(platformlogging.ChatbotID(chatbotID))
	report := Report{ChatbotID: chatbotID}

	bot, lookupErr := c.deps.Metadata.Get(ctx, chatbotID)
	if errors.Is(lookupErr, ErrChatbotNotFound) {
		bot, lookupErr = Chatbot{ChatbotID: chatbotID}, nil
		logger.Info("no metadata record, continuing with idempotent deletes")
	}

	var (
		mu      sync.Mutex
		results []stepOutcome
	)
	collect := func(o stepOutcome) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, o)
	}

	var g errgroup.Group
	if opts.DeleteVectors {
		g.Go(func() error {
			collect(c.runStep(ctx, StepVectorStore, func(ctx context.Context) (DeleteCount, error) {
				if lookupErr != nil {
					return DeleteCount{}, fmt.Errorf("enumerate documents: %w", lookupErr)
				}
				if c.deps.Vectors == nil {
					return DeleteCount{}, errors.New("no vector store configured")
				}
				return c.deps.Vectors.DeleteDocuments(ctx, chatbotID, bot.DocumentIDs)
			}))
			return nil
		})
		g.Go(func() error {
			collect(c.runStep(ctx, StepObjectStorage, func(ctx context.Context) (DeleteCount, error) {
				if lookupErr != nil {
					return DeleteCount{}, fmt.Errorf("enumerate documents: %w", lookupErr)
				}
				if c.deps.Objects == nil {
					return DeleteCount{}, errors.New("no object store configured")
				}
				return c.deps.Objects.DeleteDocuments(ctx, chatbotID, bot.SlotID, bot.DocumentIDs)
			}))
			return nil
		})
	} else {
		collect(skipped(StepVectorStore))
		collect(skipped(StepObjectStorage))
	}

	if opts.DeleteGraph {
		g.Go(func() error {
			collect(c.graphStep(ctx, bot, lookupErr))
			return nil
		})
	} else {
		collect(skipped(StepGraphStore))
	}

	_ = g.Wait()
	for _, o := range results {
		report.record(o.result, o.err)
	}

	// The metadata delete and slot release outlive the caller; each step keeps its own deadline.
	finishCtx := context.WithoutCancel(ctx)
	metaOutcome := c.runStep(finishCtx, StepMetadataStore, func(ctx context.Context) (DeleteCount, error) {
		existed, err := c.deps.Metadata.Delete(ctx, chatbotID)
		if err != nil {
			return DeleteCount{}, err
		}
		if existed {
			return DeleteCount{Deleted: 1}, nil
		}
		return DeleteCount{}, nil
	})
	report.record(metaOutcome.result, metaOutcome.err)

	if metaOutcome.err == nil {
		report.Slot = c.releaseSlot(finishCtx, logger, chatbotID)
	} else {
		logger.Warn("metadata delete failed, slot stays allocated", zap.Error(metaOutcome.err))
	}

	report.finish()
	for _, res := range report.Steps {
		metrics.RecordTeardownStep(string(res.Step), string(res.Outcome))
	}

	if report.Status == StatusPartial {
		logger.Warn("teardown incomplete", zap.Any("failed_steps", report.FailedSteps()), zap.Strings("errors", report.Errors))
	} else {
		logger.Info("teardown complete", zap.String("slot_id", report.Slot.SlotID), zap.Bool("slot_released", report.Slot.Released))
	}
	return report, nil
}

type stepOutcome struct {
	result StepResult
	err    error
}

func skipped(step Step) stepOutcome {
	return stepOutcome{result: StepResult{Step: step, Outcome: OutcomeSkipped}}
}

// runStep runs fn under the per-step deadline and classifies the result.
func (c *Coordinator) runStep(ctx context.Context, step Step, fn func(ctx context.Context) (DeleteCount, error)) stepOutcome {
	stepCtx, cancel := context.WithTimeout(ctx, c.stepTimeout)
	defer cancel()

	count, err := fn(stepCtx)
	res := StepResult{Step: step, Outcome: OutcomeSuccess, Deleted: count.Deleted, Failed: count.Failed}
	if err == nil && count.Failed > 0 {
		err = fmt.Errorf("%d items could not be deleted", count.Failed)
	}
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		res.TimedOut = true
		err = fmt.Errorf("timed out after %s: %w", c.stepTimeout, err)
	}
	return stepOutcome{result: res, err: err}
}

func (c *Coordinator) graphStep(ctx context.Context, bot Chatbot, lookupErr error) stepOutcome {
	if lookupErr != nil {
		return stepOutcome{
			result: StepResult{Step: StepGraphStore},
			err:    fmt.Errorf("resolve graph instance: %w", lookupErr),
		}
	}
	if strings.TrimSpace(bot.GraphURI) == "" {
		return skipped(StepGraphStore)
	}
	return c.runStep(ctx, StepGraphStore, func(ctx context.Context) (DeleteCount, error) {
		instanceID, err := GraphInstanceID(bot.GraphURI)
		if err != nil {
			return DeleteCount{}, err
		}
		if c.deps.Graph == nil {
			return DeleteCount{}, errors.New("no graph store configured")
		}
		if err := c.deps.Graph.DeleteInstance(ctx, instanceID); err != nil {
			return DeleteCount{}, err
		}
		return DeleteCount{Deleted: 1}, nil
	})
}

// releaseSlot frees the slot the central record says the chatbot holds.
func (c *Coordinator) releaseSlot(ctx context.Context, logger *zap.Logger, chatbotID string) SlotRelease {
	slot, err := c.deps.Slots.SlotForChatbot(ctx, chatbotID)
	if errors.Is(err, pool.ErrNotFound) {
		return SlotRelease{}
	}
	if err != nil {
		return SlotRelease{Error: fmt.Sprintf("look up slot: %v", err)}
	}

	if err := c.deps.Slots.Release(ctx, slot.SlotID); err != nil {
		logger.Error("slot release failed", platformlogging.SlotID(slot.SlotID), zap.Error(err))
		return SlotRelease{SlotID: slot.SlotID, Error: err.Error()}
	}
	return SlotRelease{SlotID: slot.SlotID, Released: true}
}
