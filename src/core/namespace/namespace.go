// Package namespace derives the storage keys that isolate one tenant's
// conversations and documents from every other tenant's.
//
// A Namespace renders as "<purpose>_<digest>", where digest is the first 32
// hex characters of a SHA-256 over the length-prefixed tenant and instance
// ids. Length prefixing keeps ("ab", "c") and ("a", "bc") apart. The
// rendered form is at most 64 characters of [a-z0-9_], so it is a valid
// relational key and vector collection name on every backend we ship.
package namespace

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Purpose is the fixed prefix that separates namespaces of different stores.
type Purpose string

const (
	PurposeChat    Purpose = "chat"
	PurposeIndex   Purpose = "index"
	PurposeDocChat Purpose = "doc_chat"
)

// DigestLength is the number of hex characters kept from the digest.
const DigestLength = 32

var (
	ErrEmptyID        = errors.New("namespace: tenant and instance ids must be non-empty")
	ErrUnknownPurpose = errors.New("namespace: unknown purpose")
	ErrMalformed      = errors.New("namespace: malformed identifier")
)

// Namespace is a resolved storage key. The zero value is not valid.
type Namespace struct {
	purpose Purpose
	digest  string
}

// Resolve maps (tenantID, instanceID) to the namespace for purpose.
func Resolve(purpose Purpose, tenantID, instanceID string) (Namespace, error) {
	if !purpose.valid() {
		return Namespace{}, fmt.Errorf("%w: %q", ErrUnknownPurpose, purpose)
	}
	if tenantID == "" || instanceID == "" {
		return Namespace{}, ErrEmptyID
	}

	return Namespace{purpose: purpose, digest: Digest(tenantID, instanceID)}, nil
}

// MustResolve is Resolve for callers that already validated their ids.
func MustResolve(purpose Purpose, tenantID, instanceID string) Namespace {
	ns, err := Resolve(purpose, tenantID, instanceID)
	if err != nil {
		panic(err)
	}
	return ns
}

// Parse reverses Namespace.String.
func Parse(s string) (Namespace, error) {
	i := strings.LastIndexByte(s, '_')
	if i <= 0 || len(s)-i-1 != DigestLength {
		return Namespace{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}

	purpose, digest := Purpose(s[:i]), s[i+1:]
	if !purpose.valid() {
		return Namespace{}, fmt.Errorf("%w: %q", ErrUnknownPurpose, purpose)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return Namespace{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}

	return Namespace{purpose: purpose, digest: digest}, nil
}

// Digest hashes parts with a 4-byte big-endian length before each one.
func Digest(parts ...string) string {
	h := sha256.New()
	var size [4]byte
	for _, p := range parts {
		binary.BigEndian.PutUint32(size[:], uint32(len(p)))
		h.Write(size[:])
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))[:DigestLength]
}

// Swap returns the related namespace for another purpose, keeping the digest.
func (n Namespace) Swap(purpose Purpose) Namespace {
	return Namespace{purpose: purpose, digest: n.digest}
}

func (n Namespace) Purpose() Purpose { return n.purpose }

func (n Namespace) Digest() string { return n.digest }

func (n Namespace) IsZero() bool { return n.digest == "" }

func (n Namespace) String() string {
	if n.IsZero() {
		return ""
	}
	return string(n.purpose) + "_" + n.digest
}

func (p Purpose) valid() bool {
	switch p {
	case PurposeChat, PurposeIndex, PurposeDocChat:
		return true
	}
	return false
}
