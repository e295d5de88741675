// Package agentrt implements the agent daemon's two host-facing
// concerns (spec §4.7): hardware detection and container execution. Both
// are narrow interfaces so cmd/kittagent can be tested against fakes
// without a real GPU or Docker daemon.
package agentrt

import (
	"bytes"
	"context"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/kitt-bench/controller/internal/domain"
)

// Detector reports the host's hardware profile for agent registration and
// heartbeats.
type Detector interface {
	Detect(ctx context.Context) (domain.Hardware, error)
}

// HostDetector shells out to nvidia-smi/rocm-smi when present; on hosts
// with neither (or an arm64 unified-memory board) it falls back to
// reporting system RAM only, matching spec.md §4.7's unified-memory note.
type HostDetector struct {
	// Exec runs name with args and returns combined stdout; overridable in
	// tests so they don't depend on a real nvidia-smi/rocm-smi binary.
	Exec func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewHostDetector builds a HostDetector that shells out via os/exec.
func NewHostDetector() *HostDetector {
	return &HostDetector{Exec: runCommand}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

func (d *HostDetector) Detect(ctx context.Context) (domain.Hardware, error) {
	hw := domain.Hardware{CPUArch: runtime.GOARCH}

	if name, vramGB, ok := d.nvidiaGPU(ctx); ok {
		hw.GPU = name
		hw.VRAMGB = &vramGB
		hw.ComputeCapability = d.nvidiaComputeCapability(ctx)
	} else if name, vramGB, ok := d.rocmGPU(ctx); ok {
		hw.GPU = name
		hw.VRAMGB = &vramGB
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		hw.RAMGB = float64(vm.Total) / (1 << 30)
	}
	if info, err := cpu.InfoWithContext(ctx); err == nil && len(info) > 0 {
		hw.EnvironmentType = info[0].ModelName
	}
	return hw, nil
}

// nvidiaGPU queries nvidia-smi for the first GPU's name and total memory.
func (d *HostDetector) nvidiaGPU(ctx context.Context) (name string, vramGB float64, ok bool) {
	out, err := d.Exec(ctx, "nvidia-smi", "--query-gpu=name,memory.total", "--format=csv,noheader,nounits")
	if err != nil {
		return "", 0, false
	}
	line := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	fields := strings.Split(line, ",")
	if len(fields) != 2 {
		return "", 0, false
	}
	name = strings.TrimSpace(fields[0])
	memMB, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return "", 0, false
	}
	return name, memMB / 1024, true
}

func (d *HostDetector) nvidiaComputeCapability(ctx context.Context) string {
	out, err := d.Exec(ctx, "nvidia-smi", "--query-gpu=compute_cap", "--format=csv,noheader")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
}

// rocmGPU queries rocm-smi for the first AMD GPU's VRAM; rocm-smi does not
// expose a clean single-line name field, so the GPU is named generically.
func (d *HostDetector) rocmGPU(ctx context.Context) (name string, vramGB float64, ok bool) {
	out, err := d.Exec(ctx, "rocm-smi", "--showmeminfo", "vram", "--csv")
	if err != nil {
		return "", 0, false
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) < 2 {
		return "", 0, false
	}
	fields := strings.Split(lines[1], ",")
	for _, f := range fields {
		if n, err := strconv.ParseFloat(strings.TrimSpace(f), 64); err == nil && n > 0 {
			return "AMD GPU", n / (1 << 30), true
		}
	}
	return "", 0, false
}
