package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Chunk is a bounded slice of parsed content. Identity is the pair
// (document id, sequence index); the wire form is "docID:index". Chunks
// are replaced wholesale on re-processing, never patched.
type Chunk struct {
	DocumentID string `json:"document_id"`
	Index      int    `json:"index"`
	Text       string `json:"text"`
	PageStart  int    `json:"page_start,omitempty"`
	PageEnd    int    `json:"page_end,omitempty"`
	Section    string `json:"section,omitempty"`
	VectorRef  string `json:"vector_ref,omitempty"`
	KBCode     string `json:"kb_code"`
}

func (c Chunk) ID() string {
	return ChunkID(c.DocumentID, c.Index)
}

func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s:%d", documentID, index)
}

// ChunkPiece is the splitter's output before identity is assigned:
// bounded text plus the provenance the boundary policy extracted.
type ChunkPiece struct {
	Text      string
	Section   string
	PageStart int
	PageEnd   int
}

func ParseChunkID(id string) (documentID string, index int, err error) {
	sep := strings.LastIndex(id, ":")
	if sep <= 0 || sep == len(id)-1 {
		return "", 0, fmt.Errorf("malformed chunk id: %q", id)
	}
	index, err = strconv.Atoi(id[sep+1:])
	if err != nil {
		return "", 0, fmt.Errorf("malformed chunk id: %q", id)
	}
	return id[:sep], index, nil
}
