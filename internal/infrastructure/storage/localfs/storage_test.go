package localfs

import (
	"context"
	"io"
	"strings"
	"testing"
)

func TestStorageRoundTripNestedKey(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	key := "parsed/batch-1/images/fig1.png"
	if err := store.Save(ctx, key, strings.NewReader("png-bytes")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rc, err := store.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestStorageRejectsEscapingKeys(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{"../outside", "/etc/passwd", "", "a/../../b"} {
		if err := store.Save(ctx, key, strings.NewReader("x")); err == nil {
			t.Fatalf("Save accepted key %q", key)
		}
		if _, err := store.Open(ctx, key); err == nil {
			t.Fatalf("Open accepted key %q", key)
		}
	}
}

func TestStorageOpenMissingObject(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := store.Open(context.Background(), "no/such/key"); err == nil {
		t.Fatal("expected error for missing object")
	}
}
