// Package run is the run ledger: the authoritative record of execution
// attempts.
//
// A Run is created PENDING and thereafter mutated only through the ledger's
// transition methods (Start, Complete, Fail, Cancel), never by direct field
// assignment. Transitions are applied atomically in the store as a
// compare-and-set on the current status, so racing workers cannot both win
// the same transition. Start additionally enforces the per-entity
// concurrency discipline: at most one run of a given entity may be RUNNING
// at any instant.
//
// Terminal states (SUCCESS, FAILED, CANCELLED) are final. Any attempted
// transition out of one returns core.ErrInvalidTransition, which the ledger
// logs and reports, never silently ignores.
package run
