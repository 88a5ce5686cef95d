package docchat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"docchat/src/storage/relational/instancectrl"
)

type ReconcileReport struct {
	// MissingCollections lists instance ids that record a document but have
	// no vector collection.
	MissingCollections []string `json:"missing_collections"`
	// OrphanCollections lists doc collections without an instance row.
	OrphanCollections []string `json:"orphan_collections"`
	Repaired          int      `json:"repaired"`
}

func (r *ReconcileReport) Consistent() bool {
	return len(r.MissingCollections) == 0 && len(r.OrphanCollections) == 0
}

// Reconcile compares doc-chat instance rows with the vector store. With
// repair set, orphan collections are dropped and instances whose collection
// vanished have their document cleared so the next upload starts clean.
func (s *Service) Reconcile(ctx context.Context, repair bool) (*ReconcileReport, error) {
	instances, err := s.instances.ListByKind(ctx, instancectrl.KindDocChat)
	if err != nil {
		return nil, persistenceError("list instances", err)
	}
	names, err := s.collections.List(ctx)
	if err != nil {
		return nil, err
	}

	collections := make(map[string]bool, len(names))
	for _, name := range names {
		if strings.HasPrefix(name, FileID("")) {
			collections[name] = true
		}
	}

	report := &ReconcileReport{}
	var errs []error

	for _, inst := range instances {
		fileID := FileID(inst.InstanceID)
		if collections[fileID] {
			delete(collections, fileID)
			continue
		}
		if !inst.HasDocument() {
			continue
		}

		report.MissingCollections = append(report.MissingCollections, inst.InstanceID)
		if repair {
			if err := s.instances.ClearDocument(ctx, inst.InstanceID); err != nil {
				errs = append(errs, fmt.Errorf("clear document of %s: %w", inst.InstanceID, err))
				continue
			}
			report.Repaired++
		}
	}

	for _, name := range names {
		if !collections[name] {
			continue
		}

		report.OrphanCollections = append(report.OrphanCollections, name)
		if repair {
			if err := s.collections.Delete(ctx, name); err != nil {
				errs = append(errs, err)
				continue
			}
			report.Repaired++
		}
	}

	s.logger.Info("reconciliation finished",
		"instances", len(instances),
		"missing_collections", len(report.MissingCollections),
		"orphan_collections", len(report.OrphanCollections),
		"repaired", report.Repaired)

	if len(errs) > 0 {
		return report, fmt.Errorf("%w: %w", ErrPartialFailure, errors.Join(errs...))
	}
	return report, nil
}
