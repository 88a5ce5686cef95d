// Package chat manages plain conversations: instances without a document,
// their message log and the index of bookmarked user turns.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-logr/logr"

	"docchat/src/core/docchat"
	"docchat/src/core/namespace"
	"docchat/src/infrastructure/metrics"
	"docchat/src/log"
	"docchat/src/storage/relational/instancectrl"
	"docchat/src/storage/relational/messagectrl"
)

// MessageStore is the slice of the conversation store plain chats use.
type MessageStore interface {
	docchat.MessageStore
	AppendIndex(ctx context.Context, namespace, indexID, indexName string) (*messagectrl.IndexEntry, error)
	ListIndex(ctx context.Context, namespace string) ([]messagectrl.IndexEntry, error)
	DeleteIndexNamespace(ctx context.Context, namespace string) (int64, error)
}

type Service struct {
	instances docchat.InstanceStore
	messages  MessageStore
	publisher docchat.Publisher
	metrics   *metrics.Metrics
	logger    logr.Logger
}

type Option func(*Service)

func WithPublisher(p docchat.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l logr.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(instances docchat.InstanceStore, messages MessageStore, opts ...Option) *Service {
	s := &Service{
		instances: instances,
		messages:  messages,
		logger:    log.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithName("chat")
	return s
}

// Create registers a chat with the default topic. Creating an instance the
// tenant already owns returns the existing row.
func (s *Service) Create(ctx context.Context, tenantID, instanceID string) (*instancectrl.Instance, error) {
	if err := validate(tenantID, instanceID); err != nil {
		return nil, err
	}
	inst, err := s.instances.Create(ctx, tenantID, instancectrl.KindChat, instanceID, instancectrl.DefaultTopic)
	if err != nil {
		if errors.Is(err, instancectrl.ErrOwnedByOtherTenant) {
			return nil, fmt.Errorf("%w: instance %s", docchat.ErrConflict, instanceID)
		}
		return nil, fmt.Errorf("create instance: %w: %w", docchat.ErrPersistence, err)
	}
	return inst, nil
}

func (s *Service) UpdateTopic(ctx context.Context, tenantID, instanceID, topic string) error {
	if err := validate(tenantID, instanceID); err != nil {
		return err
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return fmt.Errorf("%w: topic is required", docchat.ErrValidation)
	}

	err := s.instances.UpdateTopic(ctx, tenantID, instancectrl.KindChat, instanceID, topic)
	if errors.Is(err, instancectrl.ErrInstanceNotFound) {
		return fmt.Errorf("%w: instance %s", docchat.ErrNotFound, instanceID)
	}
	if err != nil {
		return fmt.Errorf("update topic: %w: %w", docchat.ErrPersistence, err)
	}
	return nil
}

// AppendMessage logs one turn. The instance must exist and belong to the
// tenant.
func (s *Service) AppendMessage(ctx context.Context, tenantID, instanceID, messageID, text string, isHuman bool) (*messagectrl.Message, error) {
	if err := validate(tenantID, instanceID); err != nil {
		return nil, err
	}
	if messageID == "" {
		return nil, fmt.Errorf("%w: message id is required", docchat.ErrValidation)
	}
	if err := s.owned(ctx, tenantID, instanceID); err != nil {
		return nil, err
	}

	ns := namespace.MustResolve(namespace.PurposeChat, tenantID, instanceID)
	msg := &messagectrl.Message{MessageID: messageID, Text: text, IsHuman: isHuman}
	if err := s.messages.Append(ctx, ns.String(), msg); err != nil {
		if errors.Is(err, messagectrl.ErrDuplicateMessage) {
			return nil, fmt.Errorf("%w: %v", docchat.ErrConflict, err)
		}
		return nil, fmt.Errorf("append message: %w: %w", docchat.ErrPersistence, err)
	}
	return msg, nil
}

// History returns the messages oldest first. Unknown instances have no
// history.
func (s *Service) History(ctx context.Context, tenantID, instanceID string) ([]messagectrl.Message, error) {
	if err := validate(tenantID, instanceID); err != nil {
		return nil, err
	}
	if err := s.notForeign(ctx, tenantID, instanceID); err != nil {
		return nil, err
	}

	ns := namespace.MustResolve(namespace.PurposeChat, tenantID, instanceID)
	messages, err := s.messages.ListOrdered(ctx, ns.String())
	if err != nil {
		return nil, fmt.Errorf("list messages: %w: %w", docchat.ErrPersistence, err)
	}
	return messages, nil
}

// AddIndex bookmarks the user message indexID under indexName.
func (s *Service) AddIndex(ctx context.Context, tenantID, instanceID, indexID, indexName string) (*messagectrl.IndexEntry, error) {
	if err := validate(tenantID, instanceID); err != nil {
		return nil, err
	}
	if indexID == "" || strings.TrimSpace(indexName) == "" {
		return nil, fmt.Errorf("%w: index id and name are required", docchat.ErrValidation)
	}
	if err := s.owned(ctx, tenantID, instanceID); err != nil {
		return nil, err
	}

	entry, err := s.messages.AppendIndex(ctx, indexNamespace(tenantID, instanceID), indexID, strings.TrimSpace(indexName))
	if err != nil {
		return nil, fmt.Errorf("append index entry: %w: %w", docchat.ErrPersistence, err)
	}
	return entry, nil
}

func (s *Service) ListIndex(ctx context.Context, tenantID, instanceID string) ([]messagectrl.IndexEntry, error) {
	if err := validate(tenantID, instanceID); err != nil {
		return nil, err
	}
	if err := s.notForeign(ctx, tenantID, instanceID); err != nil {
		return nil, err
	}

	entries, err := s.messages.ListIndex(ctx, indexNamespace(tenantID, instanceID))
	if err != nil {
		return nil, fmt.Errorf("list index entries: %w: %w", docchat.ErrPersistence, err)
	}
	return entries, nil
}

// Delete removes messages, index entries and the instance row. Every step
// runs; failures are joined under docchat.ErrPartialFailure.
func (s *Service) Delete(ctx context.Context, tenantID, instanceID string) error {
	if err := validate(tenantID, instanceID); err != nil {
		return err
	}
	if err := s.notForeign(ctx, tenantID, instanceID); err != nil {
		return err
	}

	ctx = context.WithoutCancel(ctx)
	ns := namespace.MustResolve(namespace.PurposeChat, tenantID, instanceID)

	err := docchat.RunCascade(s.logger, s.metrics, []docchat.CascadeStep{
		{Name: "messages", Run: func() error {
			_, err := s.messages.DeleteNamespace(ctx, ns.String())
			return err
		}},
		{Name: "index_entries", Run: func() error {
			_, err := s.messages.DeleteIndexNamespace(ctx, ns.Swap(namespace.PurposeIndex).String())
			return err
		}},
		{Name: "instance_row", Run: func() error {
			err := s.instances.Delete(ctx, tenantID, instancectrl.KindChat, instanceID)
			if errors.Is(err, instancectrl.ErrInstanceNotFound) {
				return nil
			}
			return err
		}},
	}, "instance_id", instanceID)

	if s.publisher != nil {
		if perr := s.publisher.Publish(ctx, docchat.TopicInstanceDeleted, docchat.InstanceDeleted{
			TenantID:   tenantID,
			InstanceID: instanceID,
			Kind:       string(instancectrl.KindChat),
			Complete:   err == nil,
		}); perr != nil {
			s.logger.Error(perr, "failed to publish event", "topic", docchat.TopicInstanceDeleted)
		}
	}
	return err
}

// owned requires an existing instance of the tenant.
func (s *Service) owned(ctx context.Context, tenantID, instanceID string) error {
	inst, err := s.instances.Get(ctx, instancectrl.KindChat, instanceID)
	if err != nil {
		return fmt.Errorf("load instance: %w: %w", docchat.ErrPersistence, err)
	}
	if inst == nil || inst.TenantID != tenantID {
		return fmt.Errorf("%w: instance %s", docchat.ErrNotFound, instanceID)
	}
	return nil
}

// notForeign rejects instances owned by another tenant but allows missing ones.
func (s *Service) notForeign(ctx context.Context, tenantID, instanceID string) error {
	inst, err := s.instances.Get(ctx, instancectrl.KindChat, instanceID)
	if err != nil {
		return fmt.Errorf("load instance: %w: %w", docchat.ErrPersistence, err)
	}
	if inst != nil && inst.TenantID != tenantID {
		return fmt.Errorf("%w: instance %s", docchat.ErrNotFound, instanceID)
	}
	return nil
}

func indexNamespace(tenantID, instanceID string) string {
	return namespace.MustResolve(namespace.PurposeChat, tenantID, instanceID).Swap(namespace.PurposeIndex).String()
}

func validate(tenantID, instanceID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenant id is required", docchat.ErrValidation)
	}
	if !docchat.ValidateInstanceID(instanceID) {
		return fmt.Errorf("%w: invalid instance id %q", docchat.ErrValidation, instanceID)
	}
	return nil
}
