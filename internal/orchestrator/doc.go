// Package orchestrator runs validation attempts against generated web
// applications.
//
// A Controller owns one attempt end to end: it resolves the artifact,
// deploys instances, probes the primary instance, hands the criteria to the
// Scheduler, and turns the Aggregator's summary into a Response for the
// regeneration step. The Scheduler runs criteria in fixed-size rounds, one
// Worker per slot, each Worker with its own browser session. All mutable
// process-wide state lives in a RunContext.
package orchestrator
