package search

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

type fakeInvokeAPI struct {
	vectors map[string][]float64
	calls   int
	err     error
}

func (f *fakeInvokeAPI) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var req struct {
		InputText string `json:"inputText"`
	}
	if err := json.Unmarshal(in.Body, &req); err != nil {
		return nil, err
	}
	vec, ok := f.vectors[req.InputText]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", req.InputText)
	}
	body, _ := json.Marshal(map[string]any{"embedding": vec})
	return &bedrockruntime.InvokeModelOutput{Body: body}, nil
}

func TestBedrockEmbedder(t *testing.T) {
	api := &fakeInvokeAPI{vectors: map[string][]float64{"hello": {0.1, 0.2, 0.3}}}
	emb := NewBedrockEmbedder(api, "amazon.titan-embed-text-v2:0")

	vec, err := emb.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("expected 3 dims, got %d", len(vec))
	}
	if vec[1] != float32(0.2) {
		t.Fatalf("unexpected vector component %v", vec[1])
	}
}

func TestBedrockEmbedderRejectsEmptyInput(t *testing.T) {
	emb := NewBedrockEmbedder(&fakeInvokeAPI{}, "amazon.titan-embed-text-v2:0")
	if _, err := emb.Embed(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestBedrockEmbedderEmptyResponse(t *testing.T) {
	api := &fakeInvokeAPI{vectors: map[string][]float64{"x": {}}}
	emb := NewBedrockEmbedder(api, "amazon.titan-embed-text-v2:0")
	if _, err := emb.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error for empty embedding")
	}
}

func TestIndexSearchRanksBySimilarity(t *testing.T) {
	api := &fakeInvokeAPI{vectors: map[string][]float64{
		"car crash on the highway": {1, 0, 0},
		"rear-ended at a stoplight": {0.9, 0.1, 0},
		"contested will probate":    {0, 0, 1},
		"vehicle accident":          {0.95, 0.05, 0},
	}}
	ix := NewIndex(NewBedrockEmbedder(api, "amazon.titan-embed-text-v2:0"))
	ctx := context.Background()

	if err := ix.Upsert(ctx, "firm-1", "sess-a", "car crash on the highway"); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := ix.Upsert(ctx, "firm-1", "sess-b", "rear-ended at a stoplight"); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := ix.Upsert(ctx, "firm-1", "sess-c", "contested will probate"); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	hits, err := ix.Search(ctx, "firm-1", "vehicle accident", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].SessionID != "sess-a" {
		t.Fatalf("expected sess-a first, got %s", hits[0].SessionID)
	}
	if hits[0].Score < hits[1].Score {
		t.Fatal("hits not sorted by score")
	}
	for _, h := range hits {
		if h.SessionID == "sess-c" {
			t.Fatal("unrelated conversation outranked relevant ones")
		}
	}
}

func TestIndexIsolatesFirms(t *testing.T) {
	api := &fakeInvokeAPI{vectors: map[string][]float64{
		"slip and fall": {1, 0},
	}}
	ix := NewIndex(NewBedrockEmbedder(api, "amazon.titan-embed-text-v2:0"))
	ctx := context.Background()

	if err := ix.Upsert(ctx, "firm-1", "sess-a", "slip and fall"); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	hits, err := ix.Search(ctx, "firm-2", "slip and fall", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no cross-firm hits, got %d", len(hits))
	}
}

func TestIndexRemove(t *testing.T) {
	api := &fakeInvokeAPI{vectors: map[string][]float64{"dog bite": {1, 0}}}
	ix := NewIndex(NewBedrockEmbedder(api, "amazon.titan-embed-text-v2:0"))
	ctx := context.Background()

	if err := ix.Upsert(ctx, "firm-1", "sess-a", "dog bite"); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	ix.Remove("firm-1", "sess-a")
	ix.Remove("firm-1", "sess-a")

	hits, err := ix.Search(ctx, "firm-1", "dog bite", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected removed session to be absent, got %d hits", len(hits))
	}
}

func TestCosine(t *testing.T) {
	if got := cosine([]float32{1, 0}, []float32{1, 0}); got < 0.999 {
		t.Fatalf("identical vectors should score ~1, got %v", got)
	}
	if got := cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Fatalf("orthogonal vectors should score 0, got %v", got)
	}
	if got := cosine([]float32{1, 0}, []float32{1}); got != 0 {
		t.Fatalf("mismatched dims should score 0, got %v", got)
	}
}
