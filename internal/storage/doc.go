// Package storage persists the registry state blob and the operator audit trail.
//
// Drivers:
//   - "file": state JSON on disk (tmp file + rename, previous copy kept as .bak),
//     audit as JSON Lines next to it
//   - "sqlite": single-row state table plus an audit table (modernc.org/sqlite)
package storage
