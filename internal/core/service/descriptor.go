// Package service holds small cross-cutting types shared by every
// long-lived component: service descriptors, retry policy, observation
// hooks and a tracer seam.
package service

// Layer describes the architectural slice a component belongs to.
type Layer string

const (
	LayerIngress  Layer = "ingress"  // HTTP/SSE surface
	LayerControl  Layer = "control"  // agent manager, dispatcher, executor
	LayerData     Layer = "data"     // storage drivers, migrations
	LayerSecurity Layer = "security" // auth, token management
)

// Descriptor advertises a component's placement and capabilities for
// introspection (system.Manager.Descriptors collects them); it never
// changes runtime behavior.
type Descriptor struct {
	Name         string
	Domain       string
	Layer        Layer
	Capabilities []string
}

// WithCapabilities returns a copy of the descriptor with capabilities appended.
func (d Descriptor) WithCapabilities(caps ...string) Descriptor {
	if len(caps) == 0 {
		return d
	}
	combined := make([]string, 0, len(d.Capabilities)+len(caps))
	combined = append(combined, d.Capabilities...)
	combined = append(combined, caps...)
	d.Capabilities = combined
	return d
}
