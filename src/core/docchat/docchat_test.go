package docchat_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/src/core/docchat"
	"docchat/src/core/namespace"
	"docchat/src/infrastructure/lock"
	"docchat/src/storage/relational/instancectrl"
	"docchat/src/storage/vectorstore"
)

func TestIngestThreeChunkDocument(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	result := e.ingest(t, "alice", "inst-1", threeChunkDoc)
	assert.Equal(t, "doc_inst-1", result.FileID)
	assert.Equal(t, 3, result.ChunkCount)
	assert.Equal(t, docchat.DocTypeTXT, result.DocType)

	c, err := e.store.GetCollection(ctx, result.FileID)
	require.NoError(t, err)
	count, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	chunks, _ := paragraphChunker{}.Split(threeChunkDoc)
	for i, keyword := range []string{"apollo", "basalt", "cobalt"} {
		vec, err := e.embedder.Embed(ctx, keyword)
		require.NoError(t, err)
		matches, err := c.Query(ctx, vec, 1)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, fmt.Sprintf("%s_%d", result.FileID, i), matches[0].ID)
		assert.Equal(t, chunks[i], matches[0].Metadata[docchat.MetaChunk])
		assert.Equal(t, fmt.Sprint(i), matches[0].Metadata[docchat.MetaSeq])
	}

	inst, err := e.instances.Get(ctx, instancectrl.KindDocChat, "inst-1")
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.Equal(t, "alice", inst.TenantID)
	assert.Equal(t, "facts.txt", inst.DocFileName)
	assert.Equal(t, "facts.txt", inst.Topic)
	assert.Equal(t, string(docchat.DocTypeTXT), inst.DocType)

	ns := namespace.MustResolve(namespace.PurposeDocChat, "alice", "inst-1")
	assert.Equal(t, []string{ns.String() + "/facts.txt"}, e.archive.keys())
	assert.Equal(t, []string{docchat.TopicDocumentIngested}, e.publisher.topics())
}

func TestReingestReplacesChunks(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	e.ingest(t, "alice", "inst-1", threeChunkDoc)
	result := e.ingest(t, "alice", "inst-1", "Dune is a desert planet.\n\nEmber glows after the fire.")
	assert.Equal(t, 2, result.ChunkCount)

	c, err := e.store.GetCollection(ctx, result.FileID)
	require.NoError(t, err)
	count, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	vec, _ := e.embedder.Embed(ctx, "cobalt")
	matches, err := c.Query(ctx, vec, 5)
	require.NoError(t, err)
	for _, m := range matches {
		assert.NotContains(t, m.Metadata[docchat.MetaChunk], "Cobalt")
	}
}

func TestAskRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.ingest(t, "alice", "inst-1", threeChunkDoc)

	result, err := e.svc.Ask(ctx, docchat.AskRequest{
		TenantID:           "alice",
		InstanceID:         "inst-1",
		Question:           "How does basalt form?",
		UserMessageID:      "u-1",
		AssistantMessageID: "a-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "Basalt forms when lava cools rapidly.", result.Answer)
	require.NotEmpty(t, result.Sources)
	assert.Equal(t, "doc_inst-1_1", result.Sources[0].ID)

	prompt := e.generator.prompts[0]
	assert.Contains(t, prompt, docchat.NotFoundAnswer)
	assert.True(t, strings.Index(prompt, "Basalt forms") < strings.Index(prompt, "Apollo 11"),
		"most relevant chunk must come first in the context")

	result, err = e.svc.Ask(ctx, docchat.AskRequest{
		TenantID:           "alice",
		InstanceID:         "inst-1",
		Question:           "Where is zircon mined?",
		UserMessageID:      "u-2",
		AssistantMessageID: "a-2",
	})
	require.NoError(t, err)
	assert.Equal(t, docchat.NotFoundAnswer, result.Answer)

	history, err := e.svc.History(ctx, "alice", "inst-1")
	require.NoError(t, err)
	require.Len(t, history, 4)

	var ids []string
	for _, m := range history {
		ids = append(ids, m.MessageID)
	}
	assert.Equal(t, []string{"u-1", "a-1", "u-2", "a-2"}, ids)
	assert.True(t, history[0].IsHuman)
	assert.False(t, history[1].IsHuman)
	assert.Equal(t, "How does basalt form?", history[0].Text)
	assert.Equal(t, "Basalt forms when lava cools rapidly.", history[1].Text)
}

func TestAskWithoutUploadIsNotFound(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.svc.NewChat(ctx, "alice", "empty-1")
	require.NoError(t, err)

	for _, instanceID := range []string{"empty-1", "never-created"} {
		t.Run(instanceID, func(t *testing.T) {
			result, err := e.svc.Ask(ctx, docchat.AskRequest{
				TenantID:           "alice",
				InstanceID:         instanceID,
				Question:           "What is basalt?",
				UserMessageID:      "u-1",
				AssistantMessageID: "a-1",
			})
			assert.Nil(t, result)
			assert.ErrorIs(t, err, docchat.ErrNotFound)
			assert.ErrorIs(t, err, docchat.ErrCollectionNotFound)

			history, err := e.svc.History(ctx, "alice", instanceID)
			require.NoError(t, err)
			assert.Empty(t, history)
		})
	}
	assert.Empty(t, e.generator.prompts)
}

func TestAskReturnsAnswerWhenLoggingFails(t *testing.T) {
	ctx := context.Background()
	var flaky *flakyMessages
	e := newEnv(t, func(d *docchat.Deps) {
		flaky = &flakyMessages{MessageStore: d.Messages}
		d.Messages = flaky
	})
	e.ingest(t, "alice", "inst-1", threeChunkDoc)

	flaky.appendErr = errDatabaseDown
	result, err := e.svc.Ask(ctx, docchat.AskRequest{
		TenantID:           "alice",
		InstanceID:         "inst-1",
		Question:           "Tell me about cobalt",
		UserMessageID:      "u-1",
		AssistantMessageID: "a-1",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, docchat.ErrPartialFailure)
	assert.ErrorIs(t, err, docchat.ErrPersistence)
	require.NotNil(t, result)
	assert.Equal(t, "Cobalt gives glass a deep blue colour.", result.Answer)
}

func TestAskProviderFailures(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.ingest(t, "alice", "inst-1", threeChunkDoc)

	ask := func(id string) error {
		_, err := e.svc.Ask(ctx, docchat.AskRequest{
			TenantID:           "alice",
			InstanceID:         "inst-1",
			Question:           "What about zircon?",
			UserMessageID:      "u-" + id,
			AssistantMessageID: "a-" + id,
		})
		return err
	}

	e.embedder.failOn = "zircon"
	err := ask("1")
	assert.ErrorIs(t, err, docchat.ErrEmbedding)
	assert.ErrorIs(t, err, docchat.ErrProvider)

	e.embedder.failOn = ""
	e.generator.err = errors.New("connection reset")
	err = ask("2")
	assert.ErrorIs(t, err, docchat.ErrGeneration)
	assert.ErrorIs(t, err, docchat.ErrProvider)
	assert.NotErrorIs(t, err, docchat.ErrEmbedding)

	history, err := e.svc.History(ctx, "alice", "inst-1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestAskValidation(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name string
		req  docchat.AskRequest
	}{
		{name: "missing tenant", req: docchat.AskRequest{InstanceID: "i", Question: "q", UserMessageID: "u", AssistantMessageID: "a"}},
		{name: "bad instance id", req: docchat.AskRequest{TenantID: "t", InstanceID: "../etc", Question: "q", UserMessageID: "u", AssistantMessageID: "a"}},
		{name: "blank question", req: docchat.AskRequest{TenantID: "t", InstanceID: "i", Question: "  ", UserMessageID: "u", AssistantMessageID: "a"}},
		{name: "missing message id", req: docchat.AskRequest{TenantID: "t", InstanceID: "i", Question: "q", UserMessageID: "u"}},
		{name: "same message ids", req: docchat.AskRequest{TenantID: "t", InstanceID: "i", Question: "q", UserMessageID: "m", AssistantMessageID: "m"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.Ask(context.Background(), tt.req)
			assert.ErrorIs(t, err, docchat.ErrValidation)
		})
	}
}

func TestIngestFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("empty document", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.svc.Ingest(ctx, docchat.IngestRequest{TenantID: "alice", InstanceID: "i-1", FileName: "a.txt"})
		assert.ErrorIs(t, err, docchat.ErrValidation)
	})

	t.Run("blank text", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.svc.Ingest(ctx, docchat.IngestRequest{TenantID: "alice", InstanceID: "i-1", FileName: "a.txt", Data: []byte(" \n\n ")})
		assert.ErrorIs(t, err, docchat.ErrValidation)
	})

	t.Run("unsupported format", func(t *testing.T) {
		e := newEnv(t, func(d *docchat.Deps) {
			d.Extractor = textExtractor{err: fmt.Errorf("%w: image/png", docchat.ErrUnsupportedFormat)}
		})
		_, err := e.svc.Ingest(ctx, docchat.IngestRequest{TenantID: "alice", InstanceID: "i-1", FileName: "a.png", Data: []byte{0x89, 'P', 'N', 'G'}})
		assert.ErrorIs(t, err, docchat.ErrUnsupportedFormat)

		_, err = e.store.GetCollection(ctx, "doc_i-1")
		assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)
		assert.Empty(t, e.archive.keys())
	})

	t.Run("extraction failure", func(t *testing.T) {
		e := newEnv(t, func(d *docchat.Deps) {
			d.Extractor = textExtractor{err: errors.New("parser crashed")}
		})
		_, err := e.svc.Ingest(ctx, docchat.IngestRequest{TenantID: "alice", InstanceID: "i-1", FileName: "a.pdf", Data: []byte("%PDF-1.4")})
		assert.ErrorIs(t, err, docchat.ErrExtractionFailure)
	})

	t.Run("embedding failure aborts before metadata", func(t *testing.T) {
		e := newEnv(t)
		e.embedder.failOn = "cobalt"
		_, err := e.svc.Ingest(ctx, docchat.IngestRequest{TenantID: "alice", InstanceID: "i-1", FileName: "a.txt", Data: []byte(threeChunkDoc)})
		assert.ErrorIs(t, err, docchat.ErrEmbedding)

		// the id stays claimed by alice but records no document
		inst, err := e.instances.Get(ctx, instancectrl.KindDocChat, "i-1")
		require.NoError(t, err)
		require.NotNil(t, inst)
		assert.Equal(t, "alice", inst.TenantID)
		assert.False(t, inst.HasDocument())
		assert.Empty(t, e.publisher.topics())
	})
}

func TestTenantIsolation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.ingest(t, "alice", "shared-id", threeChunkDoc)

	_, err := e.svc.Ingest(ctx, docchat.IngestRequest{TenantID: "bob", InstanceID: "shared-id", FileName: "b.txt", Data: []byte("Dune")})
	assert.ErrorIs(t, err, docchat.ErrConflict)

	_, err = e.svc.NewChat(ctx, "bob", "shared-id")
	assert.ErrorIs(t, err, docchat.ErrConflict)

	_, err = e.svc.Ask(ctx, docchat.AskRequest{TenantID: "bob", InstanceID: "shared-id", Question: "basalt?", UserMessageID: "u", AssistantMessageID: "a"})
	assert.ErrorIs(t, err, docchat.ErrNotFound)

	_, err = e.svc.History(ctx, "bob", "shared-id")
	assert.ErrorIs(t, err, docchat.ErrNotFound)

	assert.ErrorIs(t, e.svc.Delete(ctx, "bob", "shared-id"), docchat.ErrNotFound)

	c, err := e.store.GetCollection(ctx, "doc_shared-id")
	require.NoError(t, err)
	count, _ := c.Count(ctx)
	assert.Equal(t, 3, count)
}

func TestDeleteCascades(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.ingest(t, "alice", "inst-1", threeChunkDoc)

	_, err := e.svc.Ask(ctx, docchat.AskRequest{TenantID: "alice", InstanceID: "inst-1", Question: "apollo?", UserMessageID: "u", AssistantMessageID: "a"})
	require.NoError(t, err)

	require.NoError(t, e.svc.Delete(ctx, "alice", "inst-1"))

	_, err = e.store.GetCollection(ctx, "doc_inst-1")
	assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)

	inst, err := e.instances.Get(ctx, instancectrl.KindDocChat, "inst-1")
	require.NoError(t, err)
	assert.Nil(t, inst)

	history, err := e.svc.History(ctx, "alice", "inst-1")
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Empty(t, e.archive.keys())

	topics := e.publisher.topics()
	assert.Equal(t, docchat.TopicInstanceDeleted, topics[len(topics)-1])

	// deleting again is harmless
	assert.NoError(t, e.svc.Delete(ctx, "alice", "inst-1"))
}

func TestDeleteContinuesAfterFailedStep(t *testing.T) {
	ctx := context.Background()
	var flaky *flakyMessages
	e := newEnv(t, func(d *docchat.Deps) {
		flaky = &flakyMessages{MessageStore: d.Messages}
		d.Messages = flaky
	})
	e.ingest(t, "alice", "inst-1", threeChunkDoc)

	flaky.deleteErr = errDatabaseDown
	err := e.svc.Delete(ctx, "alice", "inst-1")
	assert.ErrorIs(t, err, docchat.ErrPartialFailure)
	assert.ErrorIs(t, err, errDatabaseDown)

	_, err = e.store.GetCollection(ctx, "doc_inst-1")
	assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)

	inst, err := e.instances.Get(ctx, instancectrl.KindDocChat, "inst-1")
	require.NoError(t, err)
	assert.Nil(t, inst)
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	e.ingest(t, "alice", "healthy", threeChunkDoc)
	e.ingest(t, "alice", "lost-vectors", threeChunkDoc)
	_, err := e.svc.NewChat(ctx, "bob", "no-upload")
	require.NoError(t, err)

	require.NoError(t, e.store.DeleteCollection(ctx, "doc_lost-vectors"))
	_, err = e.store.CreateCollection(ctx, "doc_ghost", dimension)
	require.NoError(t, err)
	_, err = e.store.CreateCollection(ctx, "unrelated", dimension)
	require.NoError(t, err)

	report, err := e.svc.Reconcile(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"lost-vectors"}, report.MissingCollections)
	assert.Equal(t, []string{"doc_ghost"}, report.OrphanCollections)
	assert.Zero(t, report.Repaired)
	assert.False(t, report.Consistent())

	report, err = e.svc.Reconcile(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Repaired)

	report, err = e.svc.Reconcile(ctx, false)
	require.NoError(t, err)
	assert.True(t, report.Consistent())

	_, err = e.store.GetCollection(ctx, "unrelated")
	assert.NoError(t, err)
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	_, err := docchat.NewService(docchat.Deps{}, docchat.Config{})
	assert.Error(t, err)
}

func TestIngestClaimsInstanceBeforeOtherTenant(t *testing.T) {
	ctx := context.Background()
	gate := newGatedEmbedder()
	e := newEnv(t, func(d *docchat.Deps) {
		d.Embedder = gate
		d.Locker = lock.NewLocal()
	})

	aliceDone := make(chan error, 1)
	go func() {
		_, err := e.svc.Ingest(ctx, docchat.IngestRequest{TenantID: "alice", InstanceID: "shared", FileName: "alice.txt", Data: []byte(threeChunkDoc)})
		aliceDone <- err
	}()
	<-gate.entered

	_, err := e.svc.Ingest(ctx, docchat.IngestRequest{TenantID: "bob", InstanceID: "shared", FileName: "bob.txt", Data: []byte("Dune and ember.")})
	assert.ErrorIs(t, err, docchat.ErrConflict)

	close(gate.release)
	require.NoError(t, <-aliceDone)

	inst, err := e.instances.Get(ctx, instancectrl.KindDocChat, "shared")
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.Equal(t, "alice", inst.TenantID)
	assert.Equal(t, "alice.txt", inst.DocFileName)

	result, err := e.svc.Ask(ctx, docchat.AskRequest{TenantID: "alice", InstanceID: "shared", Question: "What about basalt?", UserMessageID: "u", AssistantMessageID: "a"})
	require.NoError(t, err)
	assert.Contains(t, result.Answer, "Basalt")

	c, err := e.store.GetCollection(ctx, "doc_shared")
	require.NoError(t, err)
	count, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestIngestSerializesSameInstance(t *testing.T) {
	ctx := context.Background()
	gate := newGatedEmbedder()
	extractor := &countingExtractor{}
	e := newEnv(t, func(d *docchat.Deps) {
		d.Embedder = gate
		d.Extractor = extractor
		d.Locker = lock.NewLocal()
	})

	var wg sync.WaitGroup
	ingest := func(text string) {
		defer wg.Done()
		_, err := e.svc.Ingest(ctx, docchat.IngestRequest{TenantID: "alice", InstanceID: "inst-1", FileName: "facts.txt", Data: []byte(text)})
		assert.NoError(t, err)
	}

	wg.Add(1)
	go ingest(threeChunkDoc)
	<-gate.entered

	wg.Add(1)
	go ingest("Zircon is a mineral.")
	time.Sleep(50 * time.Millisecond)
	// the second upload waits on the lock before extracting
	assert.EqualValues(t, 1, extractor.calls())

	close(gate.release)
	wg.Wait()
	assert.EqualValues(t, 2, extractor.calls())

	c, err := e.store.GetCollection(ctx, "doc_inst-1")
	require.NoError(t, err)
	count, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestVectorStoreCallsAreBounded(t *testing.T) {
	ctx := context.Background()
	var hanging *hangingStore
	e := newEnv(t, func(d *docchat.Deps) {
		hanging = &hangingStore{}
		d.Collections = newHangingCollections(t, hanging)
	})

	t.Run("ingest", func(t *testing.T) {
		start := time.Now()
		_, err := e.svc.Ingest(ctx, docchat.IngestRequest{TenantID: "alice", InstanceID: "inst-1", FileName: "facts.txt", Data: []byte(threeChunkDoc)})
		assert.ErrorIs(t, err, docchat.ErrVectorStore)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("ask", func(t *testing.T) {
		require.NoError(t, e.instances.UpsertDocument(ctx, "bob", "inst-2", "facts.txt", "txt"))
		_, err := hanging.Store.CreateCollection(ctx, "doc_inst-2", dimension)
		require.NoError(t, err)

		start := time.Now()
		_, err = e.svc.Ask(ctx, docchat.AskRequest{TenantID: "bob", InstanceID: "inst-2", Question: "apollo?", UserMessageID: "u", AssistantMessageID: "a"})
		assert.ErrorIs(t, err, docchat.ErrVectorStore)
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestDeleteAfterPartialIngestDropsCollection(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, func(d *docchat.Deps) {
		d.Instances = &flakyInstances{InstanceStore: d.Instances, upsertErr: errDatabaseDown}
	})

	result, err := e.svc.Ingest(ctx, docchat.IngestRequest{TenantID: "alice", InstanceID: "inst-1", FileName: "facts.txt", Data: []byte(threeChunkDoc)})
	assert.ErrorIs(t, err, docchat.ErrPartialFailure)
	require.NotNil(t, result)

	_, err = e.store.GetCollection(ctx, result.FileID)
	require.NoError(t, err)

	require.NoError(t, e.svc.Delete(ctx, "alice", "inst-1"))

	_, err = e.store.GetCollection(ctx, result.FileID)
	assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)
}
