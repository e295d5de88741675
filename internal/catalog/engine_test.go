package catalog

import "testing"

func TestBuiltinEnginesFormatArchCoverage(t *testing.T) {
	r := NewEngineRegistry()

	tgi, ok := r.Get("tgi")
	if !ok {
		t.Fatal("expected tgi engine registered")
	}
	if tgi.SupportsArch(ArchARM64) {
		t.Error("tgi should not support arm64")
	}
	if !tgi.SupportsFormat(FormatSafetensors) {
		t.Error("tgi should support safetensors")
	}

	llama, ok := r.Get("llama_cpp")
	if !ok {
		t.Fatal("expected llama_cpp engine registered")
	}
	if !llama.SupportsArch(ArchARM64) || !llama.SupportsFormat(FormatGGUF) {
		t.Error("llama_cpp should support arm64+gguf")
	}
}

func TestInferFormat(t *testing.T) {
	cases := map[string]ModelFormat{
		"/models/llama-7b.safetensors": FormatSafetensors,
		"/models/llama-7b.gguf":        FormatGGUF,
		"/models/llama-7b.bin":         FormatPyTorch,
	}
	for path, want := range cases {
		got, ok := InferFormat(path)
		if !ok || got != want {
			t.Errorf("InferFormat(%s) = %s,%v want %s", path, got, ok, want)
		}
	}
	if _, ok := InferFormat("/models/readme.txt"); ok {
		t.Error("expected unknown format for .txt")
	}
}

func TestEngineResolveImage(t *testing.T) {
	r := NewEngineRegistry()
	tgi, _ := r.Get("tgi")

	if got := tgi.ResolveImage("2.1.0"); got != "ghcr.io/huggingface/text-generation-inference:2.1.0" {
		t.Errorf("ResolveImage(tagged) = %q", got)
	}
	if got := tgi.ResolveImage(""); got != "ghcr.io/huggingface/text-generation-inference:latest" {
		t.Errorf("ResolveImage(empty) = %q", got)
	}
}
