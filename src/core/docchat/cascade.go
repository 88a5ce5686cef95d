package docchat

import (
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"docchat/src/infrastructure/metrics"
)

// CascadeStep is one independent sub-step of a best-effort delete.
type CascadeStep struct {
	Name string
	Run  func() error
}

// RunCascade runs every step regardless of earlier failures. Failed steps
// are logged and counted; the result joins them under ErrPartialFailure.
func RunCascade(logger logr.Logger, m *metrics.Metrics, steps []CascadeStep, keysAndValues ...interface{}) error {
	var errs []error
	for _, step := range steps {
		if err := step.Run(); err != nil {
			logger.Error(err, "delete step failed", append([]interface{}{"step", step.Name}, keysAndValues...)...)
			m.CascadeFailure(step.Name)
			errs = append(errs, fmt.Errorf("%s: %w", step.Name, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPartialFailure, errors.Join(errs...))
}
