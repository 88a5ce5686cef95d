package docchat

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"docchat/src/core/namespace"
	"docchat/src/storage/relational/instancectrl"
	"docchat/src/storage/vectorstore"
)

type IngestRequest struct {
	TenantID    string
	InstanceID  string
	FileName    string
	ContentType string
	Data        []byte

	// OnChunk, if set, is called after each chunk is stored.
	OnChunk func(stored, total int)
}

type IngestResult struct {
	FileID     string  `json:"fileId"`
	ChunkCount int     `json:"chunkCount"`
	DocType    DocType `json:"docType"`
}

// Ingest extracts, chunks, embeds and indexes one document, replacing any
// document previously ingested for the instance.
//
// If indexing succeeds but the instance metadata cannot be written, the
// result is returned together with an ErrPartialFailure error.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "docchat.Ingest", trace.WithAttributes(
		attribute.String("instance_id", req.InstanceID),
		attribute.Int("document_bytes", len(req.Data)),
	))
	defer span.End()

	result, err := s.ingest(ctx, req)

	s.metrics.ObserveIngest(outcome(err), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error(err, "ingestion failed", "instance_id", req.InstanceID)
	} else {
		span.SetAttributes(attribute.Int("chunk_count", result.ChunkCount))
	}
	return result, err
}

func (s *Service) ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if err := validateIDs(req.TenantID, req.InstanceID); err != nil {
		return nil, err
	}
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("%w: document is empty", ErrValidation)
	}
	fileName := path.Base(req.FileName)
	if fileName == "." || fileName == "/" {
		fileName = "document"
	}

	ns, err := namespace.Resolve(namespace.PurposeDocChat, req.TenantID, req.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.checkOwner(ctx, req.TenantID, req.InstanceID, ErrConflict); err != nil {
		return nil, err
	}

	// The collection name carries no tenant, so uploads of every tenant to
	// this instance id contend for the same lock.
	fileID := FileID(req.InstanceID)
	unlock, err := s.locker.Lock(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire ingestion lock: %v", ErrConflict, err)
	}
	defer unlock()

	extraction, err := s.extractor.Extract(ctx, fileName, req.ContentType, req.Data)
	if err != nil {
		s.metrics.ProviderError("extraction")
		return nil, providerError(ErrExtractionFailure, "extract text", err)
	}

	chunks, err := s.chunker.Split(extraction.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: split text: %v", ErrValidation, err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: document contains no text", ErrValidation)
	}

	// Claim the instance id before touching its collection. The unique
	// (kind, instance_id) index lets exactly one tenant win.
	if _, err := s.instances.Create(ctx, req.TenantID, instancectrl.KindDocChat, req.InstanceID, instancectrl.DefaultTopic); err != nil {
		if errors.Is(err, instancectrl.ErrOwnedByOtherTenant) {
			return nil, fmt.Errorf("%w: instance %s", ErrConflict, req.InstanceID)
		}
		return nil, persistenceError("claim instance", err)
	}

	s.archiveDocument(ctx, ns, fileName, extraction.MIME, req.Data)

	// From here on the collection is being rewritten; finish it even if the
	// caller goes away so the instance is not left half-populated. Each
	// vector store call still has its own deadline.
	ctx = context.WithoutCancel(ctx)

	collection, err := s.collections.Reset(ctx, fileID)
	if err != nil {
		return nil, err
	}

	if err := s.indexChunks(ctx, collection, fileID, chunks, req.OnChunk); err != nil {
		return nil, err
	}

	result := &IngestResult{
		FileID:     fileID,
		ChunkCount: len(chunks),
		DocType:    extraction.DocType,
	}

	if err := s.instances.UpsertDocument(ctx, req.TenantID, req.InstanceID, fileName, string(extraction.DocType)); err != nil {
		return result, fmt.Errorf("%w: document indexed but %w", ErrPartialFailure, persistenceError("record document metadata", err))
	}

	s.publish(ctx, TopicDocumentIngested, DocumentIngested{
		TenantID:   req.TenantID,
		InstanceID: req.InstanceID,
		FileID:     fileID,
		FileName:   fileName,
		DocType:    extraction.DocType,
		ChunkCount: len(chunks),
	})
	s.logger.Info("document ingested", "instance_id", req.InstanceID, "file_id", fileID, "chunks", len(chunks), "doc_type", extraction.DocType)

	return result, nil
}

// indexChunks embeds and stores every chunk with bounded concurrency. Each
// entry is keyed <fileID>_<seq>, so completion order does not matter and a
// retry overwrites instead of duplicating.
func (s *Service) indexChunks(ctx context.Context, collection vectorstore.Collection, fileID string, chunks []string, onChunk func(int, int)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	var stored atomic.Int64
	for i, chunk := range chunks {
		g.Go(func() error {
			vector, err := s.embedder.Embed(gctx, chunk)
			if err != nil {
				s.metrics.ProviderError("embedding")
				return providerError(ErrEmbedding, fmt.Sprintf("embed chunk %d", i), err)
			}

			entry := vectorstore.Entry{
				ID:     fmt.Sprintf("%s_%d", fileID, i),
				Vector: vector,
				Metadata: map[string]string{
					MetaChunk:  chunk,
					MetaFileID: fileID,
					MetaSeq:    strconv.Itoa(i),
				},
			}
			if err := collection.Add(gctx, []vectorstore.Entry{entry}); err != nil {
				s.metrics.ProviderError("vector_store")
				return vectorError(fmt.Sprintf("store chunk %d", i), err)
			}

			s.metrics.ChunksIndexed(1)
			n := stored.Add(1)
			if onChunk != nil {
				onChunk(int(n), len(chunks))
			}
			return nil
		})
	}

	return g.Wait()
}

func (s *Service) archiveDocument(ctx context.Context, ns namespace.Namespace, fileName, contentType string, data []byte) {
	if s.archive == nil {
		return
	}
	key := ns.String() + "/" + fileName
	if err := s.archive.Put(ctx, key, data, contentType); err != nil {
		s.logger.Error(err, "failed to archive document", "key", key)
	}
}

// checkOwner fails when the doc-chat instance exists under another tenant.
// foreign selects the error reported for that case.
func (s *Service) checkOwner(ctx context.Context, tenantID, instanceID string, foreign error) error {
	inst, err := s.instances.Get(ctx, instancectrl.KindDocChat, instanceID)
	if err != nil {
		return persistenceError("load instance", err)
	}
	if inst != nil && inst.TenantID != tenantID {
		return fmt.Errorf("%w: instance %s", foreign, instanceID)
	}
	return nil
}
