// Package storage provides checkpoint history implementations.
//
// The history is an append-only journal of every checkpoint taken in a
// session. It is never read back into the orchestrator's index.
//
// Implementations:
//   - redis: Redis lists with JSON entries and TTL
//   - memory: In-memory, for tests and single-process use
package storage
