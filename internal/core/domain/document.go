package domain

import "time"

type DocumentStatus string

const (
	StatusUnparsed   DocumentStatus = "unparsed"
	StatusParsed     DocumentStatus = "parsed"
	StatusVectorized DocumentStatus = "vectorized"
)

func (s DocumentStatus) rank() int {
	switch s {
	case StatusUnparsed:
		return 0
	case StatusParsed:
		return 1
	case StatusVectorized:
		return 2
	default:
		return -1
	}
}

// CanAdvanceTo reports whether moving to next keeps the lifecycle
// non-decreasing. A reset to unparsed is only legal through an explicit
// re-parse (new hash or newer mtime), which callers signal separately.
func (s DocumentStatus) CanAdvanceTo(next DocumentStatus) bool {
	return next.rank() >= s.rank() && next.rank() >= 0
}

type Document struct {
	ID         string         `json:"id"`
	Path       string         `json:"path"`
	Name       string         `json:"name"`
	FileType   string         `json:"file_type"`
	Size       int64          `json:"size"`
	Hash       string         `json:"hash"`
	ModifiedAt time.Time      `json:"modified_at"`
	Status     DocumentStatus `json:"status"`
	KBCode     string         `json:"kb_code"`
	Canceled   bool           `json:"canceled,omitempty"`
	ParsedAt   *time.Time     `json:"parsed_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  *time.Time     `json:"deleted_at,omitempty"`
}

// ExternalParseTypes are the formats handed to the external parsing
// provider. Everything else is extracted locally and goes straight to
// the chunk/embed pipeline.
var ExternalParseTypes = map[string]bool{
	"pdf":  true,
	"doc":  true,
	"docx": true,
	"ppt":  true,
	"pptx": true,
}

func (d *Document) NeedsExternalParse() bool {
	return ExternalParseTypes[d.FileType]
}

// SourceKey is the object-storage key holding the document's staged
// source content. Staging happens at request time; the worker reads
// only from storage and never touches the caller's directory tree.
func SourceKey(documentID, name string) string {
	return "source/" + documentID + "/" + name
}

func (d *Document) SourceKey() string {
	return SourceKey(d.ID, d.Name)
}
