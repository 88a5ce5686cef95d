package qdrant

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestPointIDIsStable(t *testing.T) {
	a := PointID("doc_abc_0")
	b := PointID("doc_abc_0")
	c := PointID("doc_abc_1")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "grpc not found", err: status.Error(grpccodes.NotFound, "missing"), want: true},
		{name: "wrapped not found", err: fmt.Errorf("get: %w", status.Error(grpccodes.NotFound, "missing")), want: true},
		{name: "unavailable", err: status.Error(grpccodes.Unavailable, "down"), want: false},
		{name: "plain error", err: fmt.Errorf("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isNotFound(tt.err))
		})
	}
}
