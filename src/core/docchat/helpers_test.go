package docchat_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"docchat/src/core/docchat"
	"docchat/src/storage/chromem"
	"docchat/src/storage/relational"
	"docchat/src/storage/relational/instancectrl"
	"docchat/src/storage/relational/messagectrl"
	"docchat/src/storage/vectorstore"
)

// vocabulary spans the fake embedding space: one axis per word plus a bias
// axis so no vector is all zeros.
var vocabulary = []string{"apollo", "basalt", "cobalt", "dune", "ember", "fjord", "zircon"}

var dimension = len(vocabulary) + 1

const threeChunkDoc = "Apollo 11 landed on the moon in 1969.\n\n" +
	"Basalt forms when lava cools rapidly.\n\n" +
	"Cobalt gives glass a deep blue colour."

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

type keywordEmbedder struct {
	mu     sync.Mutex
	calls  int
	failOn string
}

func (e *keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	vec := make([]float32, dimension)
	vec[len(vocabulary)] = 0.1
	for _, w := range words(text) {
		if e.failOn != "" && w == e.failOn {
			return nil, fmt.Errorf("%w: model unavailable", docchat.ErrEmbedding)
		}
		for i, v := range vocabulary {
			if w == v {
				vec[i]++
			}
		}
	}
	return vec, nil
}

// groundedGenerator answers with the first context chunk that shares a
// vocabulary word with the question, or with the not-found sentinel.
type groundedGenerator struct {
	mu      sync.Mutex
	prompts []string
	err     error
}

func (g *groundedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}

	contextBlock := between(prompt, "Document context:\n", "\n\nQuestion:\n")
	question := between(prompt, "Question:\n", "\n\nAnswer:")

	for _, w := range words(question) {
		if !isVocabulary(w) {
			continue
		}
		for _, chunk := range strings.Split(contextBlock, "\n\n") {
			if strings.Contains(strings.ToLower(chunk), w) {
				return " " + chunk + "\n", nil
			}
		}
	}
	return docchat.NotFoundAnswer, nil
}

func between(s, start, end string) string {
	i := strings.Index(s, start)
	if i < 0 {
		return ""
	}
	s = s[i+len(start):]
	if j := strings.Index(s, end); j >= 0 {
		return s[:j]
	}
	return s
}

func isVocabulary(w string) bool {
	for _, v := range vocabulary {
		if v == w {
			return true
		}
	}
	return false
}

type textExtractor struct {
	err error
}

func (x textExtractor) Extract(ctx context.Context, fileName, contentType string, data []byte) (*docchat.Extraction, error) {
	if x.err != nil {
		return nil, x.err
	}
	return &docchat.Extraction{Text: string(data), DocType: docchat.DocTypeTXT, MIME: "text/plain"}, nil
}

type paragraphChunker struct{}

func (paragraphChunker) Split(text string) ([]string, error) {
	var chunks []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			chunks = append(chunks, p)
		}
	}
	return chunks, nil
}

type memArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (a *memArchive) Put(ctx context.Context, key string, data []byte, contentType string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.objects == nil {
		a.objects = make(map[string][]byte)
	}
	a.objects[key] = data
	return nil
}

func (a *memArchive) DeletePrefix(ctx context.Context, prefix string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k := range a.objects {
		if strings.HasPrefix(k, prefix) {
			delete(a.objects, k)
		}
	}
	return nil
}

func (a *memArchive) keys() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	keys := make([]string, 0, len(a.objects))
	for k := range a.objects {
		keys = append(keys, k)
	}
	return keys
}

type publishedEvent struct {
	topic string
	event any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{topic: topic, event: event})
	return nil
}

func (p *recordingPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var topics []string
	for _, e := range p.events {
		topics = append(topics, e.topic)
	}
	return topics
}

// flakyMessages fails selected operations of the wrapped store.
type flakyMessages struct {
	docchat.MessageStore
	appendErr error
	deleteErr error
}

func (f *flakyMessages) Append(ctx context.Context, namespace string, msg *messagectrl.Message) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	return f.MessageStore.Append(ctx, namespace, msg)
}

func (f *flakyMessages) DeleteNamespace(ctx context.Context, namespace string) (int64, error) {
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	return f.MessageStore.DeleteNamespace(ctx, namespace)
}

// flakyInstances fails the document metadata write of the wrapped store.
type flakyInstances struct {
	docchat.InstanceStore
	upsertErr error
}

func (f *flakyInstances) UpsertDocument(ctx context.Context, tenantID, instanceID, fileName, docType string) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	return f.InstanceStore.UpsertDocument(ctx, tenantID, instanceID, fileName, docType)
}

var errDatabaseDown = errors.New("database is down")

// gatedEmbedder holds the first embedding call until release is closed.
type gatedEmbedder struct {
	keywordEmbedder
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedEmbedder() *gatedEmbedder {
	return &gatedEmbedder{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.keywordEmbedder.Embed(ctx, text)
}

type countingExtractor struct {
	textExtractor
	n atomic.Int32
}

func (x *countingExtractor) Extract(ctx context.Context, fileName, contentType string, data []byte) (*docchat.Extraction, error) {
	x.n.Add(1)
	return x.textExtractor.Extract(ctx, fileName, contentType, data)
}

func (x *countingExtractor) calls() int32 { return x.n.Load() }

// hangingStore is a chromem store whose collections never answer Add or
// Query until the call's context ends.
type hangingStore struct {
	*chromem.Store
}

func newHangingCollections(t *testing.T, h *hangingStore) *docchat.CollectionManager {
	t.Helper()
	store, err := chromem.NewStore("", false, dimension)
	require.NoError(t, err)
	h.Store = store
	return docchat.NewCollectionManager(h, dimension, logr.Discard(), docchat.WithCallTimeout(50*time.Millisecond))
}

func (h *hangingStore) CreateCollection(ctx context.Context, name string, dim int) (vectorstore.Collection, error) {
	c, err := h.Store.CreateCollection(ctx, name, dim)
	if err != nil {
		return nil, err
	}
	return hangingCollection{c}, nil
}

func (h *hangingStore) GetCollection(ctx context.Context, name string) (vectorstore.Collection, error) {
	c, err := h.Store.GetCollection(ctx, name)
	if err != nil {
		return nil, err
	}
	return hangingCollection{c}, nil
}

type hangingCollection struct {
	vectorstore.Collection
}

func (hangingCollection) Add(ctx context.Context, entries []vectorstore.Entry) error {
	<-ctx.Done()
	return ctx.Err()
}

func (hangingCollection) Query(ctx context.Context, vector []float32, k int) ([]vectorstore.Match, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type env struct {
	svc       *docchat.Service
	store     *chromem.Store
	instances *instancectrl.InstanceService
	messages  *messagectrl.MessageService
	embedder  *keywordEmbedder
	generator *groundedGenerator
	archive   *memArchive
	publisher *recordingPublisher
}

func newEnv(t *testing.T, customize ...func(*docchat.Deps)) *env {
	t.Helper()

	db, err := relational.Open(relational.Config{Driver: relational.DriverSQLite, DSN: ":memory:", MaxOpenConns: 1})
	require.NoError(t, err)
	require.NoError(t, relational.AutoMigrate(db))
	t.Cleanup(func() { _ = relational.Close(db) })

	instances, err := instancectrl.NewInstanceService(db)
	require.NoError(t, err)
	messages, err := messagectrl.NewMessageService(db)
	require.NoError(t, err)

	store, err := chromem.NewStore("", false, dimension)
	require.NoError(t, err)

	e := &env{
		store:     store,
		instances: instances,
		messages:  messages,
		embedder:  &keywordEmbedder{},
		generator: &groundedGenerator{},
		archive:   &memArchive{},
		publisher: &recordingPublisher{},
	}

	deps := docchat.Deps{
		Collections: docchat.NewCollectionManager(store, dimension, logr.Discard()),
		Instances:   instances,
		Messages:    messages,
		Extractor:   textExtractor{},
		Chunker:     paragraphChunker{},
		Embedder:    e.embedder,
		Generator:   e.generator,
		Archive:     e.archive,
		Publisher:   e.publisher,
		Logger:      logr.Discard(),
	}
	for _, fn := range customize {
		fn(&deps)
	}

	e.svc, err = docchat.NewService(deps, docchat.Config{Concurrency: 3})
	require.NoError(t, err)
	return e
}

func (e *env) ingest(t *testing.T, tenantID, instanceID, text string) *docchat.IngestResult {
	t.Helper()
	result, err := e.svc.Ingest(context.Background(), docchat.IngestRequest{
		TenantID:    tenantID,
		InstanceID:  instanceID,
		FileName:    "facts.txt",
		ContentType: "text/plain",
		Data:        []byte(text),
	})
	require.NoError(t, err)
	return result
}
