// Package cmap provides a string-keyed map sharded by murmur3 hash.
//
// Each shard has its own lock, so writers to different canvases do not
// contend. Compound operations (SetIfAbsent, CompareAndSwap, Pop) are
// atomic within a key.
package cmap
