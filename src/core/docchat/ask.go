package docchat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"docchat/src/core/namespace"
	"docchat/src/storage/relational/instancectrl"
	"docchat/src/storage/relational/messagectrl"
	"docchat/src/storage/vectorstore"
)

type AskRequest struct {
	TenantID           string
	InstanceID         string
	Question           string
	UserMessageID      string
	AssistantMessageID string
}

type AskResult struct {
	Answer  string              `json:"answer"`
	Sources []vectorstore.Match `json:"-"`
}

// Ask answers question from the instance's document and logs the turn.
//
// When the answer was generated but logging it failed, Ask returns the
// result together with an ErrPartialFailure error.
func (s *Service) Ask(ctx context.Context, req AskRequest) (*AskResult, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "docchat.Ask", trace.WithAttributes(
		attribute.String("instance_id", req.InstanceID),
	))
	defer span.End()

	result, err := s.ask(ctx, req)

	s.metrics.ObserveAsk(outcome(err), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (s *Service) ask(ctx context.Context, req AskRequest) (*AskResult, error) {
	if err := validateIDs(req.TenantID, req.InstanceID); err != nil {
		return nil, err
	}
	question := strings.TrimSpace(req.Question)
	switch {
	case question == "":
		return nil, fmt.Errorf("%w: question is required", ErrValidation)
	case req.UserMessageID == "" || req.AssistantMessageID == "":
		return nil, fmt.Errorf("%w: user and assistant message ids are required", ErrValidation)
	case req.UserMessageID == req.AssistantMessageID:
		return nil, fmt.Errorf("%w: user and assistant message ids must differ", ErrValidation)
	}

	inst, err := s.instances.Get(ctx, instancectrl.KindDocChat, req.InstanceID)
	if err != nil {
		return nil, persistenceError("load instance", err)
	}
	if inst == nil || inst.TenantID != req.TenantID {
		return nil, fmt.Errorf("instance %s: %w", req.InstanceID, ErrCollectionNotFound)
	}

	collection, err := s.collections.Get(ctx, FileID(req.InstanceID))
	if err != nil {
		return nil, err
	}

	vector, err := s.embedder.Embed(ctx, question)
	if err != nil {
		s.metrics.ProviderError("embedding")
		return nil, providerError(ErrEmbedding, "embed question", err)
	}

	matches, err := collection.Query(ctx, vector, s.cfg.TopK)
	if err != nil {
		s.metrics.ProviderError("vector_store")
		return nil, vectorError("query collection", err)
	}

	prompt, err := BuildPrompt(JoinContext(matches), question)
	if err != nil {
		return nil, err
	}

	answer, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		s.metrics.ProviderError("generation")
		return nil, providerError(ErrGeneration, "generate answer", err)
	}
	result := &AskResult{Answer: strings.TrimSpace(answer), Sources: matches}

	ns := namespace.MustResolve(namespace.PurposeDocChat, req.TenantID, req.InstanceID)
	if err := s.logTurn(context.WithoutCancel(ctx), ns, req, question, result.Answer); err != nil {
		s.logger.Error(err, "answer generated but not logged", "instance_id", req.InstanceID)
		return result, fmt.Errorf("%w: answer generated but %w", ErrPartialFailure, err)
	}

	return result, nil
}

// logTurn appends the question and then the answer. The store's sequence
// column orders them; the second write is skipped if the first fails.
func (s *Service) logTurn(ctx context.Context, ns namespace.Namespace, req AskRequest, question, answer string) error {
	human := &messagectrl.Message{MessageID: req.UserMessageID, Text: question, IsHuman: true}
	if err := s.messages.Append(ctx, ns.String(), human); err != nil {
		return messageError("log question", err)
	}

	assistant := &messagectrl.Message{MessageID: req.AssistantMessageID, Text: answer, IsHuman: false}
	if err := s.messages.Append(ctx, ns.String(), assistant); err != nil {
		return messageError("log answer", err)
	}
	return nil
}

func messageError(msg string, err error) error {
	if errors.Is(err, messagectrl.ErrDuplicateMessage) {
		return fmt.Errorf("%s: %w: %v", msg, ErrConflict, err)
	}
	return persistenceError(msg, err)
}
