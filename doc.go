// Package apicache memoizes the results of expensive, rate-limited or
// metered calls (literature lookups, variant database queries, LLM
// requests). It offers a bounded in-memory backend and a disk-persisted
// backend behind one interface, plus a wrapper that turns any function
// into a memoized one.
package apicache
