// Package poller implements periodic reconciliation against the
// upstream tracker: query issues matching configured labels/states,
// drop ones with a live session, and dispatch the rest to the
// Orchestrator in bounded-concurrency batches.
//
// Structure:
//   - poller.go — Poller (Run, tick, backoff state)
//   - cron.go   — optional robfig/cron cadence override
package poller
