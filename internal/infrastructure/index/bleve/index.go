// Package bleve backs the lexical half of hybrid retrieval with a BM25
// keyword index.
package bleve

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/akulikov/kbdoc/internal/core/domain"
)

// Index stores one entry per chunk, keyed by the chunk id, so vector
// hits and lexical hits for the same chunk fuse under one key.
type Index struct {
	index bleve.Index
}

type chunkEntry struct {
	DocumentID string `json:"document_id"`
	Text       string `json:"text"`
	Section    string `json:"section"`
	KBCode     string `json:"kb_code"`
}

// New creates or reopens the index at path. An empty path builds an
// in-memory index for tests and dev runs. Changing the mapping requires
// removing the index directory to force a rebuild.
func New(path string) (*Index, error) {
	mapping := bleve.NewIndexMapping()

	entryMapping := bleve.NewDocumentMapping()
	textField := bleve.NewTextFieldMapping()
	// Standard analyzer: lowercase + tokenize without stemming, so
	// exact domain terms in queries match the indexed form.
	textField.Analyzer = standard.Name
	entryMapping.AddFieldMappingsAt("text", textField)
	entryMapping.AddFieldMappingsAt("section", textField)

	keywordField := bleve.NewKeywordFieldMapping()
	entryMapping.AddFieldMappingsAt("document_id", keywordField)
	entryMapping.AddFieldMappingsAt("kb_code", keywordField)

	mapping.DefaultMapping = entryMapping

	if path == "" {
		index, err := bleve.NewMemOnly(mapping)
		if err != nil {
			return nil, fmt.Errorf("create in-memory index: %w", err)
		}
		return &Index{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, err := bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open keyword index: %w", err)
		}
		return &Index{index: index}, nil
	}

	index, err := bleve.New(path, mapping)
	if err != nil {
		return nil, fmt.Errorf("create keyword index: %w", err)
	}
	return &Index{index: index}, nil
}

func (b *Index) Index(_ context.Context, chunks []domain.Chunk) error {
	batch := b.index.NewBatch()
	for _, c := range chunks {
		entry := chunkEntry{
			DocumentID: c.DocumentID,
			Text:       c.Text,
			Section:    c.Section,
			KBCode:     c.KBCode,
		}
		if err := batch.Index(domain.ChunkID(c.DocumentID, c.Index), entry); err != nil {
			return fmt.Errorf("batch chunk %d: %w", c.Index, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("index chunks: %w", err)
	}
	return nil
}

// Query returns the top chunks for the text, rank-ordered by BM25
// score. Results carry the payload needed for fusion and presentation.
func (b *Index) Query(_ context.Context, text string, limit int, scope domain.SearchScope) ([]domain.RankedChunk, error) {
	match := bleve.NewMatchQuery(text)
	match.SetField("text")

	var q blevequery.Query = match
	if scope.KBCode != "" {
		kbFilter := bleve.NewTermQuery(scope.KBCode)
		kbFilter.SetField("kb_code")
		q = bleve.NewConjunctionQuery(match, kbFilter)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"document_id", "text", "section"}

	results, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	out := make([]domain.RankedChunk, 0, len(results.Hits))
	for _, hit := range results.Hits {
		ranked := domain.RankedChunk{ChunkID: hit.ID, Score: hit.Score}
		if v, ok := hit.Fields["document_id"].(string); ok {
			ranked.DocumentID = v
		}
		if v, ok := hit.Fields["text"].(string); ok {
			ranked.Text = v
		}
		if v, ok := hit.Fields["section"].(string); ok {
			ranked.Section = v
		}
		out = append(out, ranked)
	}
	return out, nil
}

func (b *Index) DeleteByDocument(_ context.Context, documentID string) error {
	docFilter := bleve.NewTermQuery(documentID)
	docFilter.SetField("document_id")

	req := bleve.NewSearchRequest(docFilter)
	req.Size = 10000
	results, err := b.index.Search(req)
	if err != nil {
		return fmt.Errorf("find chunks to delete: %w", err)
	}

	batch := b.index.NewBatch()
	for _, hit := range results.Hits {
		batch.Delete(hit.ID)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

func (b *Index) Close() error {
	return b.index.Close()
}
