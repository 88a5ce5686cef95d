package chunking

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateTokenCount(t *testing.T) {
	assert.Equal(t, 0, EstimateTokenCount(""))
	assert.Equal(t, 0, EstimateTokenCount("  \n"))
	// [CLS] the cat [SEP]
	assert.Equal(t, 4, EstimateTokenCount("the cat"))
	// 2 + 1969 as four digits + "!" + "extraordinary" as four pieces
	assert.Equal(t, 11, EstimateTokenCount("1969 ! extraordinary"))
}

func TestSplitBlankText(t *testing.T) {
	chunks, err := NewSplitter(0, 0).Split(" \n\n\t ")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplitShortTextIsOneChunk(t *testing.T) {
	chunks, err := NewSplitter(0, 0).Split("Basalt forms when lava cools rapidly.")
	require.NoError(t, err)
	assert.Equal(t, []string{"Basalt forms when lava cools rapidly."}, chunks)
}

func TestSplitLongTextIsDeterministic(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "Paragraph %d talks about rocks and the sea.\n\n", i)
	}
	text := b.String()

	s := NewSplitter(40, 5)
	first, err := s.Split(text)
	require.NoError(t, err)
	second, err := s.Split(text)
	require.NoError(t, err)

	assert.Greater(t, len(first), 1)
	assert.Equal(t, first, second)

	joined := strings.Join(first, "\n")
	for i := 0; i < 40; i++ {
		assert.Contains(t, joined, fmt.Sprintf("Paragraph %d talks", i))
	}
	for _, c := range first {
		assert.NotEmpty(t, strings.TrimSpace(c))
	}
}
