// The main package for the dsa-harvester executable.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, job lifecycle,
//     classification, rules and CSV export endpoints behind chi middleware.
//   - Harvest pipeline: internal/job.Controller owns the single active-run
//     slot and drives internal/navigator over the county -> district ->
//     project hierarchy; internal/reconcile pairs detached label spans with
//     their values before records reach the store.
//   - Persistence: internal/store keeps projects, classifications, scoring
//     rules, jobs and the county registry in sqlite; a save and its
//     classification commit in one transaction.
//   - Plumbing: Viper populates config from file/env; zap provides structured
//     logging; Prometheus counters are exported via /metrics.
package main

import (
	"github.com/buildlead/dsa-harvester/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
