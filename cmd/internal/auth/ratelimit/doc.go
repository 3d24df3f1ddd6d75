// Package ratelimit implements gatehouse's fixed-window rate limiter with lockout.
//
// State is keyed by (client identity, endpoint class) and lives in process
// memory; it does not survive a restart and is not shared between replicas.
//
// Two counting modes exist:
//   - CountFailures (login): only failed credential checks count. Reaching the
//     limit inside the window sets a lockout that denies every attempt until it
//     elapses, regardless of correctness.
//   - CountRequests (refresh, api, upload): every admitted request counts.
//
// Each key owns its own mutex. A check followed by its record is linearizable
// per key: CheckAdmit reserves an in-flight slot that RecordFailure,
// RecordSuccess or Release settles, so concurrent attempts from one client can
// never run more credential checks than the limit allows. Independent keys never
// contend.
package ratelimit
