package agentrt

import (
	"context"
	"testing"

	"github.com/kitt-bench/controller/internal/domain"
)

func TestHostDetectorFallsBackWithoutGPUTools(t *testing.T) {
	d := &HostDetector{Exec: func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, context.DeadlineExceeded // simulate "nvidia-smi: command not found"
	}}
	hw, err := d.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if hw.GPU != "" {
		t.Fatalf("expected no GPU reported, got %q", hw.GPU)
	}
	if hw.VRAMGB != nil {
		t.Fatalf("expected nil VRAM on a unified-memory fallback, got %v", *hw.VRAMGB)
	}
}

func TestHostDetectorParsesNvidiaSMI(t *testing.T) {
	d := &HostDetector{Exec: func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if name != "nvidia-smi" {
			return nil, context.DeadlineExceeded
		}
		for _, a := range args {
			if a == "compute_cap" || a == "--query-gpu=compute_cap" {
				return []byte("8.9\n"), nil
			}
		}
		return []byte("NVIDIA A100, 81920\n"), nil
	}}
	hw, err := d.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if hw.GPU != "NVIDIA A100" {
		t.Fatalf("expected GPU name, got %q", hw.GPU)
	}
	if hw.VRAMGB == nil || *hw.VRAMGB != 80 {
		t.Fatalf("expected ~80GB VRAM, got %v", hw.VRAMGB)
	}
}

func TestFingerprintStableAcrossIdenticalHardware(t *testing.T) {
	vram := 80.0
	a := domain.Hardware{CPUArch: "amd64", GPU: "NVIDIA A100", RAMGB: 256, VRAMGB: &vram}
	b := domain.Hardware{CPUArch: "amd64", GPU: "NVIDIA A100", RAMGB: 256, VRAMGB: &vram}
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatalf("expected identical fingerprints, got %q vs %q", Fingerprint(a), Fingerprint(b))
	}
}

func TestFingerprintDiffersByArch(t *testing.T) {
	a := domain.Hardware{CPUArch: "amd64", RAMGB: 16}
	b := domain.Hardware{CPUArch: "arm64", RAMGB: 16}
	if Fingerprint(a) == Fingerprint(b) {
		t.Fatal("expected different fingerprints for different architectures")
	}
}
