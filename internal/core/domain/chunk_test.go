package domain

import "testing"

func TestChunkIDRoundTrip(t *testing.T) {
	id := ChunkID("doc-42", 7)
	docID, index, err := ParseChunkID(id)
	if err != nil {
		t.Fatalf("ParseChunkID(%q) error = %v", id, err)
	}
	if docID != "doc-42" || index != 7 {
		t.Fatalf("got (%s, %d), want (doc-42, 7)", docID, index)
	}
}

func TestParseChunkIDRejectsMalformed(t *testing.T) {
	for _, bad := range []string{"", "doc-1", ":3", "doc-1:", "doc-1:x"} {
		if _, _, err := ParseChunkID(bad); err == nil {
			t.Fatalf("ParseChunkID(%q) expected error", bad)
		}
	}
}
