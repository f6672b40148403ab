// Package domain defines the core domain models for Retouch.
//
// Domain models are pure value objects without IO dependencies.
// This package contains:
//
//   - Snapshot: immutable serialized scene state
//   - Scene, Layer: the editable scene object model
//   - FilterSlotTable: per-layer effect slots in canonical order
//   - Mode, Gate: the session mode that suppresses history recording
//   - Canvas: identifiers and records of remotely persisted sessions
//   - Errors: domain-specific error definitions
package domain
