package domain

import "time"

type BatchStatus string

const (
	BatchSubmitted BatchStatus = "submitted"
	BatchRetrieved BatchStatus = "retrieved"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

func (s BatchStatus) Terminal() bool {
	return s == BatchCompleted || s == BatchFailed
}

// ParseBatch is one external-parser submission for one document. The ID
// is assigned by the provider and is never generated locally; a batch
// row exists only after the provider acknowledged the submission.
type ParseBatch struct {
	ID           string      `json:"id"`
	DocumentID   string      `json:"document_id"`
	SourcePath   string      `json:"source_path"`
	SourceHash   string      `json:"source_hash"`
	MarkdownPath string      `json:"markdown_path,omitempty"`
	AssetsPath   string      `json:"assets_path,omitempty"`
	Status       BatchStatus `json:"status"`
	Error        string      `json:"error,omitempty"`
	SubmittedAt  time.Time   `json:"submitted_at"`
	RetrievedAt  *time.Time  `json:"retrieved_at,omitempty"`
}

// ParseFeatures are the provider feature flags sent with a submission.
type ParseFeatures struct {
	Formula  bool   `json:"enable_formula"`
	Table    bool   `json:"enable_table"`
	OCR      bool   `json:"is_ocr"`
	Language string `json:"language"`
}
