// Package domain contains the core types of the upstream resolution layer
// and the interfaces of its collaborators.
//
// An Upstream is a named, weighted group of backend targets. Its membership
// is defined by an append-only log of Target events: weight > 0 adds or
// re-weights a (host, port) pair, weight == 0 removes it. Replaying the
// whole log from empty state yields current membership.
//
// A BalancerInstance couples the weighted-selection ring built from that log
// with the record of exactly which log prefix it has applied, so the
// reconciliation layer can replay only new events instead of rebuilding the
// ring on every change.
//
// A ResolutionTarget is the mutable per-request record the resolution entry
// point fills in; it carries the retry counter that switches resolution into
// cache-only mode and pins the balancer chosen on the first attempt.
package domain
