package blob

import (
	"bytes"
	"context"
	"io"
	"testing"
)

func TestMemoryStoreBasics(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	if _, err := store.Put(ctx, "k1", bytes.NewReader([]byte("v1")), PutOptions{Metadata: map[string]string{"a": "b"}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, "k1", bytes.NewReader([]byte("v2")), PutOptions{}); err == nil {
		t.Fatalf("expected duplicate put to fail")
	}

	info, rc, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	payload, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := rc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if string(payload) != "v1" || info.Size != 2 {
		t.Fatalf("unexpected get %+v %q", info, payload)
	}

	// Metadata copies must not alias the stored object.
	info.Metadata["a"] = "mutated"
	head, err := store.Head(ctx, "k1")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.Metadata["a"] != "b" {
		t.Fatalf("stored metadata mutated through a returned copy")
	}

	if _, _, err := store.Get(ctx, "absent"); err == nil {
		t.Fatalf("expected miss for absent key")
	}

	if _, err := store.Put(ctx, "k2", bytes.NewReader([]byte("v2")), PutOptions{}); err != nil {
		t.Fatalf("put k2: %v", err)
	}
	list, err := store.List(ctx, "k")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "k1" || list[1].Key != "k2" {
		t.Fatalf("unexpected list %+v", list)
	}

	existed, err := store.Delete(ctx, "k1")
	if err != nil || !existed {
		t.Fatalf("delete: existed=%v err=%v", existed, err)
	}
}
