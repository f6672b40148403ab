// Package service wires the editor core into running sessions and hosts
// the canvas store services.
//
// This package contains:
//
//   - Loop: the single goroutine that owns all state of one session
//   - EditorSession: surface, filter pipeline, history, autosave and
//     command router for one open editor
//   - CanvasService: validated snapshot storage by canvas id
//   - AuthService: API key authentication, permissions and rate limits
//     for the canvas API
//
// Suspending work (remote fetch, persist, image decode) runs on its own
// goroutine and posts its continuation back to the session loop, so
// session state is never touched concurrently.
package service
