package knowledge

import (
	"context"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(":memory:", Options{ChunkSize: 50, ChunkOverlap: 10})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_LoadAndQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	docs := []string{
		"Use a sun lamp for outdoor lighting in Blender scenes",
		"Camera orbit animation is driven by an empty at the pivot point",
		"Subdivision surface modifiers smooth low-poly meshes",
	}
	count, err := store.Load(ctx, docs, nil, "tutorials")
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("loaded %d chunks, want 3", count)
	}

	results := store.Query(ctx, "how do I set up outdoor sun lighting", 2)
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	if !strings.Contains(results[0].Document, "sun lamp") {
		t.Errorf("top result = %q, want the lighting doc", results[0].Document)
	}
	if results[0].Metadata["source_type"] != "tutorials" {
		t.Errorf("source_type = %q, want tutorials", results[0].Metadata["source_type"])
	}
	for i := 1; i < len(results); i++ {
		if results[i].Distance < results[i-1].Distance {
			t.Error("results not ordered by distance")
		}
	}
}

func TestStore_QueryNeverErrors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if got := store.Query(ctx, "", 5); got != nil {
		t.Errorf("empty query should return nil, got %v", got)
	}
	if got := store.Query(ctx, "anything", 0); got != nil {
		t.Errorf("k=0 should return nil, got %v", got)
	}
	// Closed database degrades to empty, not panic or error
	store.Close()
	if got := store.Query(ctx, "anything", 5); got != nil {
		t.Errorf("closed store should return nil, got %v", got)
	}
}

func TestStore_Chunking(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// 120 words with chunk size 50 / overlap 10 -> windows of 50 stepping 40
	words := make([]string, 120)
	for i := range words {
		words[i] = "word"
	}
	count, err := store.Load(ctx, []string{strings.Join(words, " ")}, nil, "api_docs")
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("chunk count = %d, want 3", count)
	}
}

func TestStore_Stats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Load(ctx, []string{"doc one"}, nil, "tutorials")
	store.Load(ctx, []string{"doc two", "doc three"}, nil, "api_docs")

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats["total_documents"] != 3 {
		t.Errorf("total = %v, want 3", stats["total_documents"])
	}
	bySource := stats["source_types"].(map[string]int)
	if bySource["api_docs"] != 2 {
		t.Errorf("api_docs = %d, want 2", bySource["api_docs"])
	}
}

func TestSplitDocument(t *testing.T) {
	chunks := splitDocument("a b c d e", 2, 0)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if chunks[0] != "a b" || chunks[2] != "e" {
		t.Errorf("unexpected chunks %v", chunks)
	}

	if got := splitDocument("", 10, 2); got != nil {
		t.Errorf("empty doc should yield no chunks, got %v", got)
	}
}
