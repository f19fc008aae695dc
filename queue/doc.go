// Package queue provides the task transports behind the bridge boundary
// and per-queue execution policy.
//
// Two transports implement bridge.Queue: [Memory], a channel-backed queue
// for tests and single-process deployments, and [Redis], a Redis-list
// broker for distributed workers. Both are at-least-once: a delivery is
// tracked until acknowledged, and a worker crash between receive and ack
// leaves the task eligible for redelivery. De-duplication of redelivered
// work happens at the run ledger's Start transition, not here.
//
// [Manager] adds per-queue rate limiting (token bucket) and concurrency
// caps on the worker side.
package queue
