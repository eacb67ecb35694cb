// Package manager contains the load manager core. It resolves a requested
// module's not-yet-loaded prerequisites into dispatch order, drives the
// loader one batch at a time while queueing later requests, retries
// transient fetch failures with a bounded budget, and fans terminal
// failures out to every affected request. Lifecycle callbacks report error,
// active/idle, and user-active/user-idle transitions to subscribers.
package manager
