// Package schedule is the durable, cron-driven trigger store.
//
// A Schedule record describes what should fire (an entity or a DAG group)
// and when (a strict 5-field cron expression evaluated in the schedule's
// timezone). For every active, non-deleted schedule the registry maintains
// exactly one durable trigger row keyed "schedule_<id>", holding the cron
// expression, timezone, and next-fire timestamp. [Registry.Sync] is
// idempotent (re-syncing replaces the trigger rather than duplicating it)
// and [Registry.SyncAll] reconciles the whole trigger store against the
// schedule records, rebuilding volatile scheduler state after a restart.
//
// The [Scheduler] evaluates due triggers on a tick loop with an injectable
// clock. Missed fire times are coalesced into at most one catch-up fire,
// and a fire is dropped while the previous one's run is still RUNNING
// (max-instances = 1); the run ledger's concurrency rejection remains the
// hard enforcement point.
package schedule
