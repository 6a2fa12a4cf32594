// Package store persists DocumentRecords as one JSON document.
//
// Writes go to a temporary file in the same directory and are renamed over
// the previous state, so a crash mid-write leaves the old file intact. A
// state file that fails to decode or to unify with the embedded CUE schema
// is moved aside to <name>.corrupt-<unix> and replaced by an empty store.
//
// A companion lock file holding only its creation timestamp serializes
// runs; a lock older than the staleness threshold is taken over with a
// warning.
package store
