package domain

import "time"

// ProcessingRequest is the caller-facing handle covering one batch of
// document paths submitted together.
type ProcessingRequest struct {
	ID        string    `json:"id"`
	Paths     []string  `json:"paths"`
	KBCode    string    `json:"kb_code"`
	CreatedAt time.Time `json:"created_at"`
}

// RequestProgress aggregates per-document state for a request. Terminal
// means every document either reached vectorized or failed for good.
type RequestProgress struct {
	RequestID string            `json:"request_id"`
	Total     int               `json:"total"`
	Completed int               `json:"completed"`
	Failed    int               `json:"failed"`
	InFlight  int               `json:"in_flight"`
	Terminal  bool              `json:"terminal"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// SyncResult reports one knowledge-base sync: the processing request
// covering new and modified files, and the paths purged because their
// files left the tree.
type SyncResult struct {
	Request  *ProcessingRequest `json:"request,omitempty"`
	Enqueued []string           `json:"enqueued"`
	Removed  []string           `json:"removed"`
}

// ChangeSet is the change detector output: three disjoint path sets.
type ChangeSet struct {
	New      []FileState
	Modified []FileState
	Removed  []string
}

func (c ChangeSet) Empty() bool {
	return len(c.New) == 0 && len(c.Modified) == 0 && len(c.Removed) == 0
}

// FileState is the on-disk identity of one file as seen by a scan.
type FileState struct {
	Path       string
	Name       string
	FileType   string
	Size       int64
	ModifiedAt time.Time
	Hash       string
}
