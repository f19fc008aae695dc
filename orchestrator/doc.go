// Package orchestrator turns triggers into runs and drives DAG groups to
// completion.
//
// A manual or scheduled trigger resolves to either a single entity or a DAG
// group (the downstream closure of a root entity). Group members are
// created as PENDING runs up front; only members whose in-group upstreams
// have all succeeded are dispatched. Progress is event-driven: the
// orchestrator consumes the bridge's completion stream, releasing members
// that became ready on SUCCESS and skipping the undispatched downstream
// closure to CANCELLED on FAILED or CANCELLED. Group state is re-derived
// from the ledger on every event, so the walk survives process restarts.
package orchestrator
