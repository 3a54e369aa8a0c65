package model

import "time"

// Signature names who authored or committed and when.
type Signature struct {
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Time  time.Time `json:"time"`
}

// Commit is the on-disk envelope for a commit object. Immutable: its id is
// the content hash of the canonical serialization of every field, so two
// commits with identical content share an id no matter where they were
// created. Rewrites never modify a commit; they write a new one carrying
// the same change id.
type Commit struct {
	V            int        `json:"v"`
	Parents      []CommitID `json:"parents"`
	Tree         TreeID     `json:"tree"`
	ChangeID     ChangeID   `json:"change_id"`
	Author       Signature  `json:"author"`
	Committer    Signature  `json:"committer"`
	Description  string     `json:"description,omitempty"`
	Predecessors []CommitID `json:"predecessors,omitempty"`
	// Signature data from a pluggable signer; this core stores and returns
	// it but never interprets it.
	SigData []byte `json:"sig_data,omitempty"`
}
