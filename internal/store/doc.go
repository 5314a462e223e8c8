// Package store persists verification results to SQLite: executed
// runs with their transition logs, static defect reports, and
// falsification matrices.
//
// The database is a plain file (or :memory: in tests) opened with WAL
// mode and a single-writer connection pool. Variable environments and
// mutation descriptors are serialized with canonical JSON so the same
// result always produces the same bytes, which keeps stored runs
// diffable and re-readable byte for byte.
package store
