// Package record defines the per-document state tracked across the
// reference store, the reading device and the note vault.
//
// A DocumentRecord moves through a fixed set of statuses:
//
//	queued -> uploading -> on_device -> read_detected -> processing -> processed
//	                                                          |   ^
//	                                                          v   |
//	                                                  awaiting_attachment
//
// Status never regresses except through Reprocess, which resets a
// processed record to processing and discards its excerpts.
package record
