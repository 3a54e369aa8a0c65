package model

import "time"

// OperationMetadata describes who ran an operation, where, and when. The
// time range brackets the whole command, not just the final write.
type OperationMetadata struct {
	StartTime   time.Time         `json:"start_time"`
	EndTime     time.Time         `json:"end_time"`
	Description string            `json:"description,omitempty"`
	Username    string            `json:"username,omitempty"`
	Hostname    string            `json:"hostname,omitempty"`
	IsSnapshot  bool              `json:"is_snapshot,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// Operation is one node of the append-only operation log. Its parents are
// the log heads it superseded: usually one, several when it merged
// concurrent writers. Never deleted; undo writes a new forward operation.
type Operation struct {
	V       int               `json:"v"`
	ViewID  ViewID            `json:"view_id"`
	Parents []OperationID     `json:"parents"`
	Meta    OperationMetadata `json:"meta"`
	// Predecessors maps each commit written by this operation to the
	// commits it rewrote; an empty list means newly created.
	Predecessors map[CommitID][]CommitID `json:"predecessors,omitempty"`
}
