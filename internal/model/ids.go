// Package model defines the value types of the repository: commits, trees,
// views, operations, and ref targets, together with their canonical on-disk
// envelopes. All object ids are content hashes rendered base32lower; the
// change id is the one identifier that is not content-derived.
package model

import (
	"github.com/google/uuid"
)

// CommitID identifies an immutable commit object by content hash.
type CommitID = string

// TreeID identifies an immutable tree object by content hash.
type TreeID = string

// FileID identifies a file blob by content hash.
type FileID = string

// OperationID identifies an operation-log node by content hash.
type OperationID = string

// ViewID identifies a recorded view by content hash.
type ViewID = string

// ChangeID is the stable, user-facing identity of a logical change. It is
// chosen at commit creation and survives rewrites; it has no relationship
// to the commit's content hash.
type ChangeID = string

// reverse-hex alphabet: z=0 .. k=15, so change ids never collide visually
// with content hashes.
const changeIDAlphabet = "zyxwvutsrqponmlk"

// NewChangeID generates a fresh random change id.
func NewChangeID() ChangeID {
	u := uuid.New()
	buf := make([]byte, 0, 32)
	for _, b := range u[:] {
		buf = append(buf, changeIDAlphabet[b>>4], changeIDAlphabet[b&0x0f])
	}
	return ChangeID(buf)
}

// RootChangeID is the change id of the root commit: all zeros.
const RootChangeID = ChangeID("zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz")
