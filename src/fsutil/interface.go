package fsutil

import "context"

// Archive stores raw documents under slash separated keys.
type Archive interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	DeletePrefix(ctx context.Context, prefix string) error
}
