package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"esgbu/internal/blob/core"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()
	md := map[string]string{"entries": "2"}
	info, err := s.Put(ctx, "audit/a.jsonl", strings.NewReader("{}\n{}\n"), core.PutOptions{ContentType: "application/x-ndjson", Metadata: md})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 6 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	md["entries"] = "mutated"

	got, rc, err := s.Get(ctx, "audit/a.jsonl")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "{}\n{}\n" {
		t.Fatalf("unexpected body %q", body)
	}
	if got.Metadata["entries"] != "2" {
		t.Fatalf("metadata aliased caller map: %+v", got.Metadata)
	}
	if _, err := s.Put(ctx, "audit/a.jsonl", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestStoreListAndDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, key := range []string{"audit/2", "audit/1", "other/1"} {
		if _, err := s.Put(ctx, key, strings.NewReader(key), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	list, err := s.List(ctx, "audit/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "audit/1" || list[1].Key != "audit/2" {
		t.Fatalf("unexpected list %+v", list)
	}
	if ok, _ := s.Delete(ctx, "audit/1"); !ok {
		t.Fatal("expected delete to report existing key")
	}
	if ok, _ := s.Delete(ctx, "audit/1"); ok {
		t.Fatal("expected second delete to report missing key")
	}
	if _, _, err := s.Get(ctx, "audit/1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if s.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver %s", s.Driver())
	}
}
