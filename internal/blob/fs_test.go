package blob

import (
	"bytes"
	"context"
	"io"
	"testing"
)

func newTempFilesystem(t *testing.T) *Filesystem {
	t.Helper()
	store, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	return store
}

func TestFilesystemPutGetHeadListDelete(t *testing.T) {
	ctx := context.Background()
	store := newTempFilesystem(t)

	info, err := store.Put(ctx, "aggregate/a.jsonl", bytes.NewReader([]byte("hello\n")),
		PutOptions{ContentType: "application/x-ndjson", Metadata: map[string]string{"entries": "1"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "aggregate/a.jsonl" || info.Size != 6 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "aggregate/a.jsonl", bytes.NewReader([]byte("x")), PutOptions{}); err == nil {
		t.Fatalf("expected duplicate put to fail")
	}

	head, err := store.Head(ctx, "aggregate/a.jsonl")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	got, rc, err := store.Get(ctx, "aggregate/a.jsonl")
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
	if string(payload) != "hello\n" || got.ETag != head.ETag {
		t.Fatalf("unexpected get result %+v %q", got, payload)
	}

	list, err := store.List(ctx, "aggregate/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Key != "aggregate/a.jsonl" {
		t.Fatalf("unexpected list %+v", list)
	}

	existed, err := store.Delete(ctx, "aggregate/a.jsonl")
	if err != nil || !existed {
		t.Fatalf("delete: existed=%v err=%v", existed, err)
	}
	existed, err = store.Delete(ctx, "aggregate/a.jsonl")
	if err != nil || existed {
		t.Fatalf("second delete: existed=%v err=%v", existed, err)
	}
}

func TestFilesystemRejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	store := newTempFilesystem(t)
	for _, key := range []string{"", "  ", "/abs", "../out", "a/../../out"} {
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte("x")), PutOptions{}); err == nil {
			t.Fatalf("expected rejection for key %q", key)
		}
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	fsStore, err := Open(ctx, Config{Driver: DriverFilesystem, FSRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	if fsStore.Driver() != DriverFilesystem {
		t.Fatalf("expected fs driver, got %s", fsStore.Driver())
	}
	memStore, err := Open(ctx, Config{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if memStore.Driver() != DriverMemory {
		t.Fatalf("expected memory driver, got %s", memStore.Driver())
	}
	if _, err := Open(ctx, Config{Driver: "bogus"}); err == nil {
		t.Fatalf("expected unknown driver rejection")
	}
	if _, err := Open(ctx, Config{Driver: DriverS3}); err == nil {
		t.Fatalf("expected s3 without bucket to fail")
	}
}
