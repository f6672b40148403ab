// Package memory provides in-memory repositories.
//
// CanvasStore keeps canvases in a sharded concurrent map and implements
// optimistic locking with cmap.CompareAndSwap. APIKeyStore holds the API
// keys provisioned from configuration. Both return clones so callers never
// share state with the store.
package memory
