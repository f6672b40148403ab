// Package debounce provides a cancellable trailing-edge timer.
//
// A Timer runs its action once a quiet period follows the last Trigger.
// Every Trigger cancels the pending firing and starts a new window, so at
// most one firing is ever pending per Timer.
//
// Firings are handed to a Poster, which lets an event loop execute them on
// its own goroutine. A generation counter discards a firing that was
// superseded after it was posted but before it ran.
//
// The Clock is injectable; ManualClock drives timers deterministically in
// tests.
package debounce
