package docchat

import (
	"context"
	"errors"
	"fmt"

	"docchat/src/core/namespace"
	"docchat/src/storage/relational/instancectrl"
	"docchat/src/storage/relational/messagectrl"
)

// NewChat registers an empty doc-chat instance. It has no collection until
// a document is ingested.
func (s *Service) NewChat(ctx context.Context, tenantID, instanceID string) (*instancectrl.Instance, error) {
	if err := validateIDs(tenantID, instanceID); err != nil {
		return nil, err
	}

	inst, err := s.instances.Create(ctx, tenantID, instancectrl.KindDocChat, instanceID, instancectrl.DefaultTopic)
	if err != nil {
		if errors.Is(err, instancectrl.ErrOwnedByOtherTenant) {
			return nil, fmt.Errorf("%w: instance %s", ErrConflict, instanceID)
		}
		return nil, persistenceError("create instance", err)
	}
	return inst, nil
}

// History returns the logged turns oldest first.
func (s *Service) History(ctx context.Context, tenantID, instanceID string) ([]messagectrl.Message, error) {
	if err := validateIDs(tenantID, instanceID); err != nil {
		return nil, err
	}
	if err := s.checkOwner(ctx, tenantID, instanceID, ErrNotFound); err != nil {
		return nil, err
	}

	ns := namespace.MustResolve(namespace.PurposeDocChat, tenantID, instanceID)
	messages, err := s.messages.ListOrdered(ctx, ns.String())
	if err != nil {
		return nil, persistenceError("list messages", err)
	}
	return messages, nil
}

// Delete removes the instance's messages, vector collection, archived
// document and instance row. Every step runs even if an earlier one failed;
// failures are logged and returned joined under ErrPartialFailure.
func (s *Service) Delete(ctx context.Context, tenantID, instanceID string) error {
	if err := validateIDs(tenantID, instanceID); err != nil {
		return err
	}

	inst, err := s.instances.Get(ctx, instancectrl.KindDocChat, instanceID)
	if err != nil {
		return persistenceError("load instance", err)
	}
	if inst != nil && inst.TenantID != tenantID {
		return fmt.Errorf("%w: instance %s", ErrNotFound, instanceID)
	}

	ctx = context.WithoutCancel(ctx)
	ns := namespace.MustResolve(namespace.PurposeDocChat, tenantID, instanceID)
	fileID := FileID(instanceID)

	steps := []CascadeStep{
		{Name: "messages", Run: func() error {
			_, err := s.messages.DeleteNamespace(ctx, ns.String())
			return err
		}},
	}
	// Without an instance row the collection name is not provably ours;
	// reconciliation cleans up such orphans.
	if inst != nil {
		steps = append(steps, CascadeStep{Name: "vector_collection", Run: func() error {
			return s.collections.Delete(ctx, fileID)
		}})
	}
	if s.archive != nil {
		steps = append(steps, CascadeStep{Name: "archive", Run: func() error {
			return s.archive.DeletePrefix(ctx, ns.String()+"/")
		}})
	}
	steps = append(steps, CascadeStep{Name: "instance_row", Run: func() error {
		err := s.instances.Delete(ctx, tenantID, instancectrl.KindDocChat, instanceID)
		if errors.Is(err, instancectrl.ErrInstanceNotFound) {
			return nil
		}
		return err
	}})

	err = RunCascade(s.logger, s.metrics, steps, "instance_id", instanceID)

	s.publish(ctx, TopicInstanceDeleted, InstanceDeleted{
		TenantID:   tenantID,
		InstanceID: instanceID,
		Kind:       string(instancectrl.KindDocChat),
		Complete:   err == nil,
	})
	return err
}
