package campaign

import (
	"testing"

	"github.com/kitt-bench/controller/internal/catalog"
	"github.com/kitt-bench/controller/internal/domain"
)

func TestExpandFiltersIncompatibleFormat(t *testing.T) {
	cfg := domain.CampaignConfig{
		Models:  []domain.ModelSpec{{Name: "m1", SafetensorsRepo: "org/m1", SizeGB: 10}},
		Engines: []domain.EngineSpec{{Name: "llama_cpp", Suite: "throughput"}}, // gguf-only
	}
	cells, skips := Expand(cfg, catalog.NewEngineRegistry(), ExpandOptions{})
	if len(cells) != 0 {
		t.Fatalf("expected no compatible cells, got %+v", cells)
	}
	if len(skips) != 1 || skips[0].Reason != "no_compatible_artifact" {
		t.Fatalf("expected one no_compatible_artifact skip, got %+v", skips)
	}
}

func TestExpandOrdersAscendingBySize(t *testing.T) {
	cfg := domain.CampaignConfig{
		Models: []domain.ModelSpec{
			{Name: "big", SafetensorsRepo: "org/big", SizeGB: 70},
			{Name: "small", SafetensorsRepo: "org/small", SizeGB: 7},
		},
		Engines: []domain.EngineSpec{{Name: "vllm", Suite: "throughput"}},
	}
	cells, _ := Expand(cfg, catalog.NewEngineRegistry(), ExpandOptions{})
	if len(cells) != 2 {
		t.Fatalf("expected 2 cells, got %d", len(cells))
	}
	if cells[0].Model.Name != "small" || cells[1].Model.Name != "big" {
		t.Fatalf("expected ascending size order, got %+v", cells)
	}
}

func TestExpandAppliesMaxModelSizeAndSkipPatterns(t *testing.T) {
	cfg := domain.CampaignConfig{
		Models: []domain.ModelSpec{
			{Name: "huge", SafetensorsRepo: "org/huge", SizeGB: 200},
			{Name: "q4", SafetensorsRepo: "org/q4-quant", SizeGB: 5},
			{Name: "ok", SafetensorsRepo: "org/ok", SizeGB: 5},
		},
		Engines:        []domain.EngineSpec{{Name: "vllm", Suite: "throughput"}},
		ResourceLimits: domain.ResourceLimits{MaxModelSizeGB: 100},
		QuantFilter:    domain.QuantFilter{SkipPatterns: []string{"*q4*"}},
	}
	cells, skips := Expand(cfg, catalog.NewEngineRegistry(), ExpandOptions{})
	if len(cells) != 1 || cells[0].Model.Name != "ok" {
		t.Fatalf("expected only 'ok' to survive filtering, got %+v", cells)
	}
	reasons := map[string]bool{}
	for _, s := range skips {
		reasons[s.Reason] = true
	}
	if !reasons["max_model_size_gb"] || !reasons["quant_filter"] {
		t.Fatalf("expected both max_model_size_gb and quant_filter skips, got %+v", skips)
	}
}

func TestExpandResumeOmitsAlreadySucceeded(t *testing.T) {
	engines := catalog.NewEngineRegistry()
	model := domain.ModelSpec{Name: "m1", SafetensorsRepo: "org/m1", SizeGB: 5}
	engineSpec := domain.EngineSpec{Name: "vllm", Suite: "throughput"}
	engine, _ := engines.Get("vllm")
	path := ArtifactPath(model, engine)

	cfg := domain.CampaignConfig{Models: []domain.ModelSpec{model}, Engines: []domain.EngineSpec{engineSpec}}
	cells, _ := Expand(cfg, engines, ExpandOptions{
		Resume:           true,
		AlreadySucceeded: map[string]bool{cellKey(path, "vllm"): true},
	})
	if len(cells) != 0 {
		t.Fatalf("expected already-succeeded cell to be omitted entirely, got %+v", cells)
	}
}
