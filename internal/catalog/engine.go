// Package catalog holds the compile-time variants-and-capability-set model
// for inference engines and benchmarks (spec §9): a small tagged registry
// looked up by name, replacing the distillation's dynamic plugin registry.
package catalog

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ModelFormat is an inference artifact format an engine can consume.
type ModelFormat string

const (
	FormatSafetensors ModelFormat = "safetensors"
	FormatPyTorch     ModelFormat = "pytorch"
	FormatGGUF        ModelFormat = "gguf"
)

// Arch is a CPU architecture tag (matches domain.Hardware.CPUArch).
type Arch string

const (
	ArchAMD64 Arch = "amd64"
	ArchARM64 Arch = "arm64"
)

// Engine describes one inference-engine variant: the formats it can load,
// the architectures it runs on, and how to reach it once started.
type Engine struct {
	Name             string
	SupportedFormats []ModelFormat
	SupportedArches  []Arch
	DefaultPort      int
	HealthPath       string
	// Image is the container image template; {tag} is substituted from the
	// model spec's resolved version where applicable.
	Image string
}

// ResolveImage substitutes tag into the engine's image template; an empty
// tag resolves to "latest", the tag Docker uses for an untagged pull.
func (e Engine) ResolveImage(tag string) string {
	if tag == "" {
		tag = "latest"
	}
	return strings.ReplaceAll(e.Image, "{tag}", tag)
}

// SupportsFormat reports whether the engine can load a model in format f.
func (e Engine) SupportsFormat(f ModelFormat) bool {
	for _, sf := range e.SupportedFormats {
		if sf == f {
			return true
		}
	}
	return false
}

// SupportsArch reports whether the engine runs on arch a.
func (e Engine) SupportsArch(a Arch) bool {
	for _, sa := range e.SupportedArches {
		if sa == a {
			return true
		}
	}
	return false
}

// EngineRegistry is a tagged, name-keyed registry of Engine variants.
type EngineRegistry struct {
	mu      sync.RWMutex
	engines map[string]Engine
}

// NewEngineRegistry returns a registry pre-populated with the built-in
// engine catalogue.
func NewEngineRegistry() *EngineRegistry {
	r := &EngineRegistry{engines: make(map[string]Engine)}
	for _, e := range builtinEngines() {
		r.MustRegister(e)
	}
	return r
}

// Register adds or replaces an engine variant.
func (r *EngineRegistry) Register(e Engine) error {
	if e.Name == "" {
		return fmt.Errorf("engine name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[e.Name] = e
	return nil
}

// MustRegister panics on error; used only for the built-in catalogue at
// construction time.
func (r *EngineRegistry) MustRegister(e Engine) {
	if err := r.Register(e); err != nil {
		panic(err)
	}
}

// Get looks up an engine by name.
func (r *EngineRegistry) Get(name string) (Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[name]
	return e, ok
}

// List returns all registered engines sorted by name.
func (r *EngineRegistry) List() []Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Engine, 0, len(r.engines))
	for _, e := range r.engines {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func builtinEngines() []Engine {
	return []Engine{
		{
			Name:             "vllm",
			SupportedFormats: []ModelFormat{FormatSafetensors, FormatPyTorch},
			SupportedArches:  []Arch{ArchAMD64, ArchARM64},
			DefaultPort:      8000,
			HealthPath:       "/health",
			Image:            "vllm/vllm-openai:{tag}",
		},
		{
			Name:             "tgi",
			SupportedFormats: []ModelFormat{FormatSafetensors},
			SupportedArches:  []Arch{ArchAMD64},
			DefaultPort:      80,
			HealthPath:       "/health",
			Image:            "ghcr.io/huggingface/text-generation-inference:{tag}",
		},
		{
			Name:             "llama_cpp",
			SupportedFormats: []ModelFormat{FormatGGUF},
			SupportedArches:  []Arch{ArchAMD64, ArchARM64},
			DefaultPort:      8080,
			HealthPath:       "/health",
			Image:            "ghcr.io/ggerganov/llama.cpp:server-{tag}",
		},
		{
			Name:             "ollama",
			SupportedFormats: []ModelFormat{FormatGGUF},
			SupportedArches:  []Arch{ArchAMD64, ArchARM64},
			DefaultPort:      11434,
			HealthPath:       "/api/tags",
			Image:            "ollama/ollama:{tag}",
		},
	}
}

// InferFormat guesses a model's format from its path, mirroring the
// preflight check in spec §4.4.
func InferFormat(modelPath string) (ModelFormat, bool) {
	ext := strings.ToLower(filepath.Ext(modelPath))
	switch ext {
	case ".safetensors":
		return FormatSafetensors, true
	case ".gguf":
		return FormatGGUF, true
	case ".bin", ".pt", ".pth":
		return FormatPyTorch, true
	default:
		return "", false
	}
}
