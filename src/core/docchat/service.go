package docchat

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"docchat/src/infrastructure/metrics"
	"docchat/src/log"
)

const (
	DefaultTopK        = 5
	DefaultConcurrency = 4
)

type Config struct {
	// TopK chunks retrieved per question.
	TopK int
	// Concurrency bounds parallel embedding calls within one ingestion.
	Concurrency int
}

// Deps are the collaborators of Service. Archive, Locker, Publisher and
// Metrics are optional.
type Deps struct {
	Collections *CollectionManager
	Instances   InstanceStore
	Messages    MessageStore
	Extractor   Extractor
	Chunker     Chunker
	Embedder    Embedder
	Generator   Generator

	Archive   Archive
	Locker    Locker
	Publisher Publisher
	Metrics   *metrics.Metrics
	Logger    logr.Logger
}

type Service struct {
	collections *CollectionManager
	instances   InstanceStore
	messages    MessageStore
	extractor   Extractor
	chunker     Chunker
	embedder    Embedder
	generator   Generator
	archive     Archive
	locker      Locker
	publisher   Publisher
	metrics     *metrics.Metrics

	cfg    Config
	logger logr.Logger
	tracer trace.Tracer
}

func NewService(deps Deps, cfg Config) (*Service, error) {
	switch {
	case deps.Collections == nil:
		return nil, errors.New("docchat: collection manager is required")
	case deps.Instances == nil:
		return nil, errors.New("docchat: instance store is required")
	case deps.Messages == nil:
		return nil, errors.New("docchat: message store is required")
	case deps.Extractor == nil:
		return nil, errors.New("docchat: extractor is required")
	case deps.Chunker == nil:
		return nil, errors.New("docchat: chunker is required")
	case deps.Embedder == nil:
		return nil, errors.New("docchat: embedder is required")
	case deps.Generator == nil:
		return nil, errors.New("docchat: generator is required")
	}

	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	logger := deps.Logger
	if logger.GetSink() == nil {
		logger = log.Logger()
	}
	logger = logger.WithName("docchat")

	locker := deps.Locker
	if locker == nil {
		locker = noopLocker{}
	}

	return &Service{
		collections: deps.Collections,
		instances:   deps.Instances,
		messages:    deps.Messages,
		extractor:   deps.Extractor,
		chunker:     deps.Chunker,
		embedder:    deps.Embedder,
		generator:   deps.Generator,
		archive:     deps.Archive,
		locker:      locker,
		publisher:   deps.Publisher,
		metrics:     deps.Metrics,
		cfg:         cfg,
		logger:      logger,
		tracer:      otel.Tracer("docchat/src/core/docchat"),
	}, nil
}

func (s *Service) publish(ctx context.Context, topic string, event any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, topic, event); err != nil {
		s.logger.Error(err, "failed to publish event", "topic", topic)
	}
}

func validateIDs(tenantID, instanceID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	if !ValidateInstanceID(instanceID) {
		return fmt.Errorf("%w: instance id %q must be 1-128 characters of letters, digits, '_' or '-'", ErrValidation, instanceID)
	}
	return nil
}

type noopLocker struct{}

func (noopLocker) Lock(context.Context, string) (func(), error) { return func() {}, nil }
