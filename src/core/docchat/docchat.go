// Package docchat implements document-grounded chat: ingestion of an
// uploaded document into a per-instance vector collection, and question
// answering over that collection with the turns logged to the conversation
// store.
package docchat

import (
	"context"
	"regexp"

	"docchat/src/storage/relational/instancectrl"
	"docchat/src/storage/relational/messagectrl"
)

type DocType string

const (
	DocTypePDF  DocType = "pdf"
	DocTypeDOCX DocType = "docx"
	DocTypePPT  DocType = "ppt"
	DocTypeTXT  DocType = "txt"
	DocTypeNone DocType = "none"
)

// Metadata keys stored with every chunk vector.
const (
	MetaChunk  = "chunk"
	MetaFileID = "fileId"
	MetaSeq    = "seq"
)

// Event topics.
const (
	TopicDocumentIngested = "docchat.document_ingested"
	TopicInstanceDeleted  = "docchat.instance_deleted"
)

var instanceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Extraction is the plain text of a document and its detected type.
type Extraction struct {
	Text    string
	DocType DocType
	MIME    string
}

// Extractor turns document bytes into text. Implementations fail with
// ErrUnsupportedFormat or ErrExtractionFailure.
type Extractor interface {
	Extract(ctx context.Context, fileName, contentType string, data []byte) (*Extraction, error)
}

// Chunker splits text deterministically. It returns no chunks only for
// blank input.
type Chunker interface {
	Split(text string) ([]string, error)
}

// Embedder fails with ErrEmbedding or ErrRateLimited.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator fails with ErrGeneration or ErrRateLimited.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type InstanceStore interface {
	Create(ctx context.Context, tenantID string, kind instancectrl.Kind, instanceID, topic string) (*instancectrl.Instance, error)
	Get(ctx context.Context, kind instancectrl.Kind, instanceID string) (*instancectrl.Instance, error)
	UpsertDocument(ctx context.Context, tenantID, instanceID, fileName, docType string) error
	ClearDocument(ctx context.Context, instanceID string) error
	UpdateTopic(ctx context.Context, tenantID string, kind instancectrl.Kind, instanceID, topic string) error
	Delete(ctx context.Context, tenantID string, kind instancectrl.Kind, instanceID string) error
	ListByKind(ctx context.Context, kind instancectrl.Kind) ([]instancectrl.Instance, error)
}

// MessageStore is the conversation log.
type MessageStore interface {
	Append(ctx context.Context, namespace string, msg *messagectrl.Message) error
	ListOrdered(ctx context.Context, namespace string) ([]messagectrl.Message, error)
	DeleteNamespace(ctx context.Context, namespace string) (int64, error)
}

// Archive keeps the raw uploaded documents.
type Archive interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// Locker serializes work on one key. The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
}

type DocumentIngested struct {
	TenantID   string  `json:"tenant_id"`
	InstanceID string  `json:"instance_id"`
	FileID     string  `json:"file_id"`
	FileName   string  `json:"file_name"`
	DocType    DocType `json:"doc_type"`
	ChunkCount int     `json:"chunk_count"`
}

type InstanceDeleted struct {
	TenantID   string `json:"tenant_id"`
	InstanceID string `json:"instance_id"`
	Kind       string `json:"kind"`
	Complete   bool   `json:"complete"`
}

// FileID names the vector collection of a doc-chat instance. Instance ids
// are unique across tenants, so the name needs no tenant component.
func FileID(instanceID string) string {
	return "doc_" + instanceID
}

// ValidateInstanceID checks the shape shared by every instance id.
func ValidateInstanceID(instanceID string) bool {
	return instanceIDPattern.MatchString(instanceID)
}
