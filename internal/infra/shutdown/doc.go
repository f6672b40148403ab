// Package shutdown runs ordered cleanup when the process is asked to stop.
//
// Hooks run in reverse registration order, so components registered while
// starting up are torn down in the opposite order. A shutdown starts on
// SIGINT or SIGTERM, when the Wait context ends, or when Trigger is called
// (for example because a listener failed).
package shutdown
