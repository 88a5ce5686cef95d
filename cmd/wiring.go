package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"
	weaviateClient "github.com/weaviate/weaviate-go-client/v4/weaviate"
	"gorm.io/gorm"

	"docchat/src/core/chat"
	"docchat/src/core/docchat"
	"docchat/src/fsutil"
	"docchat/src/infrastructure/chunking"
	"docchat/src/infrastructure/events"
	"docchat/src/infrastructure/extract"
	"docchat/src/infrastructure/integrations/ollama"
	"docchat/src/infrastructure/integrations/unstructured"
	"docchat/src/infrastructure/lock"
	"docchat/src/infrastructure/metrics"
	"docchat/src/log"
	"docchat/src/storage/chromem"
	"docchat/src/storage/minioctrl"
	"docchat/src/storage/qdrant"
	"docchat/src/storage/relational"
	"docchat/src/storage/relational/instancectrl"
	"docchat/src/storage/relational/messagectrl"
	"docchat/src/storage/vectorstore"
	"docchat/src/storage/weaviate"
)

// app holds every long-lived dependency built from configuration.
type app struct {
	db        *gorm.DB
	store     vectorstore.Store
	registry  *prometheus.Registry
	pubsub    *events.PubSub
	docChats  *docchat.Service
	chats     *chat.Service
	instances *instancectrl.InstanceService
	closers   []io.Closer
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.db != nil {
		if err := relational.Close(a.db); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func openDatabase() (*gorm.DB, error) {
	driver := viper.GetString("database.driver")
	dsn := viper.GetString("database.dsn")
	if dsn == "" && driver == relational.DriverPostgres {
		dsn = relational.PostgresDSN(
			viper.GetString("postgres.host"),
			viper.GetString("postgres.port"),
			viper.GetString("postgres.user"),
			viper.GetString("postgres.password"),
			viper.GetString("postgres.db"),
		)
	}

	return relational.Open(relational.Config{
		Driver:          driver,
		DSN:             dsn,
		MaxOpenConns:    viper.GetInt("database.max_open_conns"),
		MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
		ConnMaxLifetime: viper.GetDuration("database.conn_max_lifetime"),
		LogLevel:        viper.GetString("database.log_level"),
	})
}

func openVectorStore() (vectorstore.Store, io.Closer, error) {
	switch backend := viper.GetString("vectorstore.backend"); backend {
	case "chromem":
		s, err := chromem.NewStore(viper.GetString("chromem.path"), viper.GetBool("chromem.compress"), viper.GetInt("vectorstore.dimension"))
		return s, nil, err
	case "qdrant":
		s, err := qdrant.NewStore(qdrant.Config{
			Host:   viper.GetString("qdrant.host"),
			Port:   viper.GetInt("qdrant.port"),
			APIKey: viper.GetString("qdrant.api_key"),
			UseTLS: viper.GetBool("qdrant.use_tls"),
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "weaviate":
		wc := weaviateClient.New(weaviateClient.Config{
			Host:             viper.GetString("weaviate.url"),
			Scheme:           viper.GetString("weaviate.scheme"),
			ConnectionClient: &http.Client{Timeout: viper.GetDuration("vectorstore.timeout")},
		})
		return weaviate.NewSDK(wc), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown vector store backend %q", backend)
	}
}

func openArchive(ctx context.Context) (docchat.Archive, error) {
	switch backend := viper.GetString("archive.backend"); backend {
	case "none", "":
		return nil, nil
	case "local":
		return fsutil.NewLocalArchive(viper.GetString("archive.path"))
	case "minio":
		return minioctrl.NewDocumentArchive(ctx, minioctrl.Config{
			Endpoint:  viper.GetString("minio.endpoint"),
			AccessKey: viper.GetString("minio.access_key"),
			SecretKey: viper.GetString("minio.secret_key"),
			UseSSL:    viper.GetBool("minio.use_ssl"),
			Bucket:    viper.GetString("minio.bucket"),
		})
	default:
		return nil, fmt.Errorf("unknown archive backend %q", backend)
	}
}

func openLocker() (docchat.Locker, io.Closer, error) {
	switch backend := viper.GetString("lock.backend"); backend {
	case "none", "":
		return nil, nil, nil
	case "local":
		return lock.NewLocal(), nil, nil
	case "redis":
		l, err := lock.NewRedis(lock.RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
			TTL:      viper.GetDuration("lock.ttl"),
		})
		if err != nil {
			return nil, nil, err
		}
		return l, l, nil
	default:
		return nil, nil, fmt.Errorf("unknown lock backend %q", backend)
	}
}

func openEvents() (*events.PubSub, error) {
	return events.Open(events.Config{
		Backend: viper.GetString("events.backend"),
		AMQPURL: viper.GetString("amqp.url"),
	}, log.WatermillAdapter(log.WithName("watermill")))
}

// buildApp wires the services from configuration. The caller must Close
// the result.
func buildApp(ctx context.Context) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	db, err := openDatabase()
	if err != nil {
		return nil, err
	}
	a.db = db

	nodeID := viper.GetInt64("database.node_id")
	instances, err := instancectrl.NewInstanceService(db, instancectrl.WithNodeID(nodeID))
	if err != nil {
		return nil, err
	}
	messages, err := messagectrl.NewMessageService(db, messagectrl.WithNodeID(nodeID))
	if err != nil {
		return nil, err
	}
	a.instances = instances

	store, storeCloser, err := openVectorStore()
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	a.store = store
	if storeCloser != nil {
		a.closers = append(a.closers, storeCloser)
	}

	archive, err := openArchive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open document archive: %w", err)
	}

	locker, lockCloser, err := openLocker()
	if err != nil {
		return nil, fmt.Errorf("failed to open ingestion lock: %w", err)
	}
	if lockCloser != nil {
		a.closers = append(a.closers, lockCloser)
	}

	pubsub, err := openEvents()
	if err != nil {
		return nil, fmt.Errorf("failed to open events backend: %w", err)
	}
	a.pubsub = pubsub
	a.closers = append(a.closers, pubsub)

	var publisher docchat.Publisher
	if pubsub.Publisher != nil {
		publisher = events.NewPublisher(pubsub.Publisher)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var m *metrics.Metrics
	if viper.GetBool("metrics.enabled") {
		m = metrics.New(a.registry)
	}

	provider, err := ollama.NewClient(ollama.Config{
		URL:               viper.GetString("ollama.url"),
		EmbeddingModel:    viper.GetString("ollama.embedding_model"),
		ChatModel:         viper.GetString("ollama.chat_model"),
		Timeout:           viper.GetDuration("ollama.timeout"),
		RequestsPerSecond: viper.GetFloat64("ollama.requests_per_second"),
		Burst:             viper.GetInt("ollama.burst"),
		Options: map[string]interface{}{
			"temperature": viper.GetFloat64("ollama.temperature"),
		},
	})
	if err != nil {
		return nil, err
	}

	var partitioner extract.Partitioner
	if url := viper.GetString("unstructured.url"); url != "" {
		partitioner = unstructured.NewClient(url, viper.GetDuration("unstructured.timeout"))
	}

	logger := log.Logger()
	a.docChats, err = docchat.NewService(docchat.Deps{
		Collections: docchat.NewCollectionManager(store, viper.GetInt("vectorstore.dimension"), logger,
			docchat.WithCallTimeout(viper.GetDuration("vectorstore.timeout"))),
		Instances:   instances,
		Messages:    messages,
		Extractor:   extract.New(partitioner),
		Chunker:     chunking.NewSplitter(viper.GetInt("ingest.chunk_size"), viper.GetInt("ingest.chunk_overlap")),
		Embedder:    provider,
		Generator:   provider,
		Archive:     archive,
		Locker:      locker,
		Publisher:   publisher,
		Metrics:     m,
		Logger:      logger,
	}, docchat.Config{
		TopK:        viper.GetInt("ask.top_k"),
		Concurrency: viper.GetInt("ingest.concurrency"),
	})
	if err != nil {
		return nil, err
	}

	chatOpts := []chat.Option{chat.WithMetrics(m), chat.WithLogger(logger)}
	if publisher != nil {
		chatOpts = append(chatOpts, chat.WithPublisher(publisher))
	}
	a.chats = chat.NewService(instances, messages, chatOpts...)

	ok = true
	return a, nil
}
