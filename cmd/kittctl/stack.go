package main

import "fmt"

// handleStack is a stub: the monitoring stack generator (Prometheus/Grafana
// compose files and dashboards) is explicitly out of scope for this
// controller (spec Non-goals). The subcommand stays in the CLI surface so
// `kittctl stack --help` documents where that tooling would plug in.
func handleStack(args []string) error {
	fmt.Println(`kittctl stack is not implemented: generating a monitoring stack
(Prometheus/Grafana compose files, dashboards) is out of scope for this
controller. Point an external Prometheus at this controller's /metrics
endpoint instead.`)
	return nil
}
