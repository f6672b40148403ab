// Package history implements the bounded undo/redo stack over scene
// snapshots.
//
// The Manager owns the entry list and cursor. Entries are only appended or
// truncated: recording while the cursor is behind the newest entry drops the
// redo branch first, a snapshot identical to the current entry is never
// appended, and the oldest entries are evicted once the limit is exceeded.
//
// Recording is suppressed while the session gate is not live. Undo and
// redo put the gate into the restoring mode before touching the scene and
// return it to live only after the restore (including the filter rebake)
// has completed, so scene changes caused by the restore are never recorded.
//
// Scene change notifications are coalesced by a single trailing-edge
// debounce timer before a snapshot is taken.
package history
