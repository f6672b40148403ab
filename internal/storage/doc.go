// Package storage persists canvases for the canvas HTTP API.
//
// Three backends implement service.CanvasRepository:
//
//   - memory: a sharded concurrent map (package memory), lost on exit
//   - badger: KVCanvasRepository over the BadgerEngine KV store
//   - sqlite: SQLiteCanvasRepository over modernc.org/sqlite
//
// The badger and sqlite backends share one record encoding: a fixed
// header carrying timestamps and the version, followed by the snapshot
// payload. With an encryption key configured the payload is sealed with
// an adaptive AEAD (AES-GCM or ChaCha20-Poly1305) bound to the canvas id.
package storage
