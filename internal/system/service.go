// Package system defines the lifecycle contract every long-lived component
// (HTTP server, liveness sweeper, campaign executor supervisor) implements,
// and a Manager that starts/stops them deterministically.
package system

import (
	"context"

	core "github.com/kitt-bench/controller/internal/core/service"
)

// Service is a long-lived component with an explicit start/stop lifecycle.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// DescriptorProvider is implemented by services that expose a descriptor;
// Manager.Descriptors collects them.
type DescriptorProvider interface {
	Descriptor() core.Descriptor
}
