// Package bridge hands runs off to the asynchronous execution backend and
// carries completion events back to the orchestrator.
//
// [Bridge.Dispatch] wraps a PENDING run into a Task carrying the run id and
// entity reference, and enqueues it on a transport. Delivery is at-least-once:
// the run ledger's Start transition, not the queue, is the de-duplication
// point. Dispatch enforces the serial-per-entity policy up front, rejecting
// with core.ErrConcurrentRunRejected while another run of the same entity
// is RUNNING, and retries transient queue unavailability with bounded
// backoff; exhaustion fails the run rather than leaving it PENDING forever.
//
// Workers report terminal transitions through [Bridge.NotifyCompletion];
// the orchestrator consumes them from [Bridge.Completions]. The channel
// keeps the orchestrator's DAG-walk logic decoupled from the queue
// implementation. Completions must be drained for group progress; without
// a consumer the buffer eventually fills and further events are dropped
// (the ledger remains the durable record either way).
package bridge
