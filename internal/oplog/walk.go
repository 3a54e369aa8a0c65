package oplog

import (
	"sort"

	"github.com/siltvcs/silt/internal/model"
)

// LogEntry pairs an operation with its id for display walks.
type LogEntry struct {
	ID model.OperationID
	Op *model.Operation
}

// Log walks the operation DAG from head, newest first, returning up to n
// entries. Parents are visited in recorded order with duplicates skipped.
func (s *OpStore) Log(head model.OperationID, n int) ([]LogEntry, error) {
	var out []LogEntry
	visited := make(map[model.OperationID]bool)
	queue := []model.OperationID{head}
	for len(queue) > 0 && (n <= 0 || len(out) < n) {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		op, err := s.ReadOperation(id)
		if err != nil {
			return nil, err
		}
		out = append(out, LogEntry{ID: id, Op: op})
		queue = append(queue, op.Parents...)
	}
	return out, nil
}

// CommonAncestor finds a nearest common ancestor between the operations
// already folded into a merge (of) and another head. Breadth-first from
// both sides; ties break on the smallest id.
func (s *OpStore) CommonAncestor(of []model.OperationID, other model.OperationID) (model.OperationID, error) {
	fromA := make(map[model.OperationID]bool, len(of))
	queueA := append([]model.OperationID(nil), of...)
	for _, id := range of {
		fromA[id] = true
	}
	fromB := map[model.OperationID]bool{other: true}
	queueB := []model.OperationID{other}

	step := func(queue []model.OperationID, mine, theirs map[model.OperationID]bool) ([]model.OperationID, []model.OperationID, error) {
		var next []model.OperationID
		var found []model.OperationID
		for _, id := range queue {
			if theirs[id] {
				found = append(found, id)
				continue
			}
			op, err := s.ReadOperation(id)
			if err != nil {
				return nil, nil, err
			}
			for _, p := range op.Parents {
				if !mine[p] {
					mine[p] = true
					next = append(next, p)
				}
			}
		}
		return next, found, nil
	}

	for len(queueA) > 0 || len(queueB) > 0 {
		var found []model.OperationID
		var err error
		queueA, found, err = step(queueA, fromA, fromB)
		if err != nil {
			return "", err
		}
		if len(found) > 0 {
			sort.Strings(found)
			return found[0], nil
		}
		queueB, found, err = step(queueB, fromB, fromA)
		if err != nil {
			return "", err
		}
		if len(found) > 0 {
			sort.Strings(found)
			return found[0], nil
		}
	}
	return "", nil
}
