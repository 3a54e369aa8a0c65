package store

import (
	"fmt"
	"os"
	"path/filepath"

	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
)

// ID is a content hash identifying an immutable object, rendered in its
// base32lower multibase form. The empty string means "absent".
type ID = string

// ObjectStore manages content-addressed immutable objects on disk. Objects
// are keyed by CIDv1 (raw codec, SHA2-256); the base32lower rendering of the
// CID doubles as the filename. Writes are idempotent and deduplicating:
// putting the same bytes twice yields the same id and touches nothing.
type ObjectStore struct {
	dir string
}

// NewObjectStore creates an ObjectStore at the given directory.
func NewObjectStore(dir string) (*ObjectStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create objects dir: %w", err)
	}
	return &ObjectStore{dir: dir}, nil
}

// ComputeID computes the content id for the given data.
func ComputeID(data []byte) (ID, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("multihash: %w", err)
	}
	c := gocid.NewCidV1(gocid.Raw, mh)
	encoded, err := multibase.Encode(multibase.Base32, c.Bytes())
	if err != nil {
		return "", fmt.Errorf("multibase: %w", err)
	}
	return encoded, nil
}

// ParseID validates that s is a well-formed object id.
func ParseID(s string) (ID, error) {
	_, cidBytes, err := multibase.Decode(s)
	if err != nil {
		return "", fmt.Errorf("decode id %q: %w", s, err)
	}
	if _, err := gocid.Cast(cidBytes); err != nil {
		return "", fmt.Errorf("parse id %q: %w", s, err)
	}
	return s, nil
}

// Put writes data to the object store, returning its id.
// If the object already exists, this is a no-op.
func (s *ObjectStore) Put(data []byte) (ID, error) {
	id, err := ComputeID(data)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, id)
	if _, err := os.Stat(path); err == nil {
		return id, nil // already exists
	}
	if err := SafeWrite(path, data, 0644); err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}
	return id, nil
}

// Get reads an object by id. The bytes are re-hashed on every read; a
// mismatch reports ErrCorrupt rather than returning bad data.
func (s *ObjectStore) Get(id ID) ([]byte, error) {
	path := filepath.Join(s.dir, id)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("object %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", id, err)
	}
	actual, err := ComputeID(data)
	if err != nil {
		return nil, err
	}
	if actual != id {
		return nil, fmt.Errorf("object %s hashes to %s: %w", id, actual, ErrCorrupt)
	}
	return data, nil
}

// Has checks if an object exists.
func (s *ObjectStore) Has(id ID) bool {
	path := filepath.Join(s.dir, id)
	_, err := os.Stat(path)
	return err == nil
}

// List returns the ids of all stored objects, in directory order.
func (s *ObjectStore) List() ([]ID, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	ids := make([]ID, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ids = append(ids, e.Name())
	}
	return ids, nil
}
