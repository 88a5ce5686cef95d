// Package extract turns uploaded documents into plain text. Text files are
// decoded locally; PDF, Word and PowerPoint documents go through the
// unstructured partition service.
package extract

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"docchat/src/core/docchat"
	"docchat/src/infrastructure/integrations/unstructured"
)

// Partitioner is satisfied by *unstructured.Client.
type Partitioner interface {
	Partition(ctx context.Context, filename string, content []byte) ([]unstructured.Element, error)
}

type Extractor struct {
	partitioner Partitioner
}

// New returns an Extractor. A nil partitioner limits it to text files.
func New(partitioner Partitioner) *Extractor {
	return &Extractor{partitioner: partitioner}
}

func (x *Extractor) Extract(ctx context.Context, fileName, contentType string, data []byte) (*docchat.Extraction, error) {
	detected := mimetype.Detect(data).String()
	docType := DocTypeOf(detected)
	if docType == docchat.DocTypeNone {
		docType = DocTypeOf(declaredType(fileName, contentType))
	}

	switch docType {
	case docchat.DocTypeNone:
		return nil, fmt.Errorf("%w: %s (%s)", docchat.ErrUnsupportedFormat, fileName, detected)
	case docchat.DocTypeTXT:
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("%w: %s is not valid UTF-8 text", docchat.ErrUnsupportedFormat, fileName)
		}
		return &docchat.Extraction{Text: string(data), DocType: docType, MIME: "text/plain"}, nil
	}

	if x.partitioner == nil {
		return nil, fmt.Errorf("%w: no extraction service configured for %s", docchat.ErrUnsupportedFormat, docType)
	}

	elements, err := x.partitioner.Partition(ctx, fileName, data)
	if err != nil {
		if errors.Is(err, unstructured.ErrRejected) {
			return nil, fmt.Errorf("%w: %v", docchat.ErrUnsupportedFormat, err)
		}
		return nil, fmt.Errorf("%w: %v", docchat.ErrExtractionFailure, err)
	}

	return &docchat.Extraction{
		Text:    unstructured.JoinText(elements),
		DocType: docType,
		MIME:    detected,
	}, nil
}

// DocTypeOf maps a MIME type onto the document types the service accepts.
func DocTypeOf(mimeType string) docchat.DocType {
	mimeType = strings.ToLower(mimeType)
	switch {
	case strings.Contains(mimeType, "pdf"):
		return docchat.DocTypePDF
	case strings.Contains(mimeType, "word"):
		return docchat.DocTypeDOCX
	case strings.Contains(mimeType, "presentation"), strings.Contains(mimeType, "powerpoint"):
		return docchat.DocTypePPT
	case strings.HasPrefix(mimeType, "text/plain"):
		return docchat.DocTypeTXT
	default:
		return docchat.DocTypeNone
	}
}

// declaredType prefers the client's content type and falls back to the
// file extension. Generic binary types carry no information.
func declaredType(fileName, contentType string) string {
	if contentType != "" && !strings.HasPrefix(contentType, "application/octet-stream") {
		return contentType
	}
	return mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName)))
}
