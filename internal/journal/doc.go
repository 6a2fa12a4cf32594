// Package journal keeps an append-only SQLite log of committed lifecycle
// steps, one row per step, grouped by run.
//
// The journal is an audit trail. The JSON record store remains the source of
// truth; losing the journal loses history, never state.
//
// # Ordering
//
// Rows are ordered by seq (INTEGER PRIMARY KEY AUTOINCREMENT). Reads always
// ORDER BY seq ASC so history prints identically across invocations.
//
// # Idempotency
//
// UNIQUE(run_id, external_id, step, to_status) with ON CONFLICT DO NOTHING
// makes a repeated append within one run a no-op.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce run references
package journal
