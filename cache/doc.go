// Package cache provides a sharded TTL cache with single-flight computation.
//
// GetOrCompute guarantees at most one in-flight computation per key;
// concurrent callers share the one result. It also provides SHA-256-based
// key derivation and TTL policies.
package cache
