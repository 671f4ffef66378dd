// Package tdb implements an embedded, single-file, memory-mapped,
// optionally encrypted, transactional object database: one process-local
// *DB per file, snapshot-isolated read transactions, a single serialized
// write transaction, and a crash-consistent commit protocol built around
// copy-on-write arrays and an atomic file-header flip.
//
// Data is organized into named tables, each with a fixed column schema
// and a B+-tree of row clusters keyed by a 63-bit Key. See SPEC_FULL.md
// and DESIGN.md in the module root for the full design and grounding
// notes.
package tdb
