// Package oplog implements the transactional backbone: the append-only DAG
// of operations, each snapshotting a complete repository view, plus the
// merge algorithm that reconciles concurrent operation heads and the
// Transaction type every mutation goes through.
package oplog

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/siltvcs/silt/internal/model"
	"github.com/siltvcs/silt/internal/store"
)

// OpStore persists operations and views as content-addressed objects,
// mirroring the content store but for repository metadata.
type OpStore struct {
	ops   *store.ObjectStore
	views *store.ObjectStore
}

// NewOpStore creates an OpStore rooted at dir.
func NewOpStore(dir string) (*OpStore, error) {
	ops, err := store.NewObjectStore(filepath.Join(dir, "operations"))
	if err != nil {
		return nil, err
	}
	views, err := store.NewObjectStore(filepath.Join(dir, "views"))
	if err != nil {
		return nil, err
	}
	return &OpStore{ops: ops, views: views}, nil
}

// WriteView serializes and appends a view, returning its id.
func (s *OpStore) WriteView(v *model.View) (model.ViewID, error) {
	data, err := store.CanonicalJSON(v)
	if err != nil {
		return "", fmt.Errorf("serialize view: %w", err)
	}
	id, err := s.views.Put(data)
	if err != nil {
		return "", fmt.Errorf("store view: %w", err)
	}
	return id, nil
}

// ReadView fetches a view by id.
func (s *OpStore) ReadView(id model.ViewID) (*model.View, error) {
	data, err := s.views.Get(id)
	if err != nil {
		return nil, err
	}
	v := model.NewView()
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("unmarshal view %s: %w", id, err)
	}
	return v, nil
}

// WriteOperation serializes and appends an operation, returning its id.
// The underlying write is atomic: a crash leaves either no operation or the
// fully-written one, never a partial record.
func (s *OpStore) WriteOperation(op *model.Operation) (model.OperationID, error) {
	data, err := store.CanonicalJSON(op)
	if err != nil {
		return "", fmt.Errorf("serialize operation: %w", err)
	}
	id, err := s.ops.Put(data)
	if err != nil {
		return "", fmt.Errorf("store operation: %w", err)
	}
	return id, nil
}

// ReadOperation fetches an operation by id. A missing or corrupt operation
// is fatal for the command that needed it; callers do not retry.
func (s *OpStore) ReadOperation(id model.OperationID) (*model.Operation, error) {
	data, err := s.ops.Get(id)
	if err != nil {
		return nil, err
	}
	var op model.Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("unmarshal operation %s: %w", id, err)
	}
	return &op, nil
}

// OpView reads the view an operation resulted in.
func (s *OpStore) OpView(id model.OperationID) (*model.View, error) {
	op, err := s.ReadOperation(id)
	if err != nil {
		return nil, err
	}
	return s.ReadView(op.ViewID)
}
