package direct

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

type memStorage struct {
	files map[string][]byte
}

func (s *memStorage) Save(_ context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.files[key] = raw
	return nil
}

func (s *memStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	raw, ok := s.files[key]
	if !ok {
		return nil, fmt.Errorf("no object %s", key)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func TestSupports(t *testing.T) {
	e := NewExtractor(&memStorage{})
	for _, ft := range []string{"md", "txt", "xlsx", "MD"} {
		if !e.Supports(ft) {
			t.Fatalf("must support %q", ft)
		}
	}
	for _, ft := range []string{"pdf", "docx", "bin", ""} {
		if e.Supports(ft) {
			t.Fatalf("must not support %q", ft)
		}
	}
}

func TestExtractMarkdown(t *testing.T) {
	storage := &memStorage{files: map[string][]byte{
		"notes/a.md": []byte("  # Title\n\nbody text\n  "),
	}}
	e := NewExtractor(storage)

	text, err := e.Extract(context.Background(), "notes/a.md")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if text != "# Title\n\nbody text" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestExtractRejectsBinary(t *testing.T) {
	storage := &memStorage{files: map[string][]byte{
		"a.txt": {0xff, 0xfe, 0x00, 0x01},
	}}
	e := NewExtractor(storage)

	if _, err := e.Extract(context.Background(), "a.txt"); err == nil {
		t.Fatalf("binary content must be rejected")
	}
}

func TestExtractWorkbookRendersSheets(t *testing.T) {
	workbook := excelize.NewFile()
	_ = workbook.SetSheetName("Sheet1", "Revenue")
	_ = workbook.SetSheetRow("Revenue", "A1", &[]any{"Quarter", "Amount"})
	_ = workbook.SetSheetRow("Revenue", "A2", &[]any{"Q1", 1200})

	var buf bytes.Buffer
	if err := workbook.Write(&buf); err != nil {
		t.Fatal(err)
	}
	storage := &memStorage{files: map[string][]byte{"fin/report.xlsx": buf.Bytes()}}
	e := NewExtractor(storage)

	text, err := e.Extract(context.Background(), "fin/report.xlsx")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !strings.Contains(text, "# Revenue") {
		t.Fatalf("sheet heading missing: %q", text)
	}
	if !strings.Contains(text, "| Quarter | Amount |") || !strings.Contains(text, "| Q1 | 1200 |") {
		t.Fatalf("rows not rendered as table: %q", text)
	}
}

func TestExtractMissingObject(t *testing.T) {
	e := NewExtractor(&memStorage{files: map[string][]byte{}})
	if _, err := e.Extract(context.Background(), "ghost.md"); err == nil {
		t.Fatalf("missing object must error")
	}
}
