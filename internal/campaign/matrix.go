// Package campaign drives a CampaignConfig to completion one cell at a
// time (spec §4.5): matrix expansion with compatibility/quant/resource
// filtering, sequential per-cell dispatch with a watchdog, cancellation
// propagation, and resume.
package campaign

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/kitt-bench/controller/internal/catalog"
	"github.com/kitt-bench/controller/internal/domain"
)

// ExpandOptions carries the disk budget and per-campaign already-succeeded
// set consulted during expansion.
type ExpandOptions struct {
	Resume            bool
	AlreadySucceeded  map[string]bool // keyed by cellKey
	AvailableDiskGB    float64        // 0 disables the reserve_gb check
}

// Skip records one (model, engine) pair dropped during expansion and why.
type Skip struct {
	Model  domain.ModelSpec
	Engine domain.EngineSpec
	Reason string
}

// Expand turns a CampaignConfig into an ordered list of cells, applying the
// compatibility, quant, resource and disk filters from spec §4.5. Skipped
// entries are returned alongside the reason so counters can be updated
// without re-deriving skip logic elsewhere.
func Expand(cfg domain.CampaignConfig, engines *catalog.EngineRegistry, opts ExpandOptions) (cells []domain.Cell, skips []Skip) {
	reservedGB := opts.AvailableDiskGB
	for _, model := range cfg.Models {
		for _, engineSpec := range cfg.Engines {
			engine, ok := engines.Get(engineSpec.Name)
			if !ok {
				skips = append(skips, Skip{model, engineSpec, "unknown_engine"})
				continue
			}
			if !formatsIntersect(engine, model) {
				skips = append(skips, Skip{model, engineSpec, "no_compatible_artifact"})
				continue
			}
			if quantFiltered(cfg.QuantFilter, model) {
				skips = append(skips, Skip{model, engineSpec, "quant_filter"})
				continue
			}
			if cfg.ResourceLimits.MaxModelSizeGB > 0 && model.SizeGB > cfg.ResourceLimits.MaxModelSizeGB {
				skips = append(skips, Skip{model, engineSpec, "max_model_size_gb"})
				continue
			}
			if cfg.Disk.ReserveGB > 0 && reservedGB > 0 && model.SizeGB > reservedGB-cfg.Disk.ReserveGB {
				skips = append(skips, Skip{model, engineSpec, "disk_reserve_gb"})
				continue
			}
			if opts.Resume && opts.AlreadySucceeded[cellKey(ArtifactPath(model, engine), engineSpec.Name)] {
				continue // already completed successfully, omit entirely (spec §4.5 resume)
			}
			cells = append(cells, domain.Cell{Model: model, Engine: engineSpec, EstimatedSizeGB: model.SizeGB})
		}
	}
	sort.SliceStable(cells, func(i, j int) bool { return cells[i].EstimatedSizeGB < cells[j].EstimatedSizeGB })
	return cells, skips
}

// cellKey identifies a (resolved model path, engine) pair for the resume
// already-succeeded lookup; it must match the (ModelPath, EngineKey) the
// executor records on each dispatched quick test.
func cellKey(modelPath, engineName string) string {
	return modelPath + "|" + engineName
}

// formatsIntersect reports whether engine's supported formats intersect the
// model's declared artifact sources (spec §4.5).
func formatsIntersect(engine catalog.Engine, model domain.ModelSpec) bool {
	if model.SafetensorsRepo != "" && (engine.SupportsFormat(catalog.FormatSafetensors) || engine.SupportsFormat(catalog.FormatPyTorch)) {
		return true
	}
	if model.GGUFRepo != "" && engine.SupportsFormat(catalog.FormatGGUF) {
		return true
	}
	if model.OllamaTag != "" && engine.SupportsFormat(catalog.FormatGGUF) {
		return true
	}
	return false
}

func quantFiltered(f domain.QuantFilter, model domain.ModelSpec) bool {
	candidates := []string{model.SafetensorsRepo, model.GGUFRepo, model.OllamaTag, model.Name}
	if len(f.IncludeOnly) > 0 {
		matched := false
		for _, pattern := range f.IncludeOnly {
			if matchesAny(pattern, candidates) {
				matched = true
				break
			}
		}
		if !matched {
			return true
		}
	}
	for _, pattern := range f.SkipPatterns {
		if matchesAny(pattern, candidates) {
			return true
		}
	}
	return false
}

func matchesAny(pattern string, candidates []string) bool {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if ok, err := filepath.Match(pattern, c); err == nil && ok {
			return true
		}
		if strings.Contains(c, strings.Trim(pattern, "*")) {
			return true
		}
	}
	return false
}

// ArtifactPath resolves the model path an agent should be told to load for
// (model, engine), preferring the source format the engine prefers.
func ArtifactPath(model domain.ModelSpec, engine catalog.Engine) string {
	if engine.SupportsFormat(catalog.FormatGGUF) {
		if model.GGUFRepo != "" {
			return model.GGUFRepo
		}
		if model.OllamaTag != "" {
			return model.OllamaTag
		}
	}
	if model.SafetensorsRepo != "" {
		return model.SafetensorsRepo
	}
	return model.GGUFRepo
}
