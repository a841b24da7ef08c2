// Package notify fans committed transfer events out to subscribers.
//
// The engine returns events in its receipts; callers hand them to a
// Registry, which runs every handler registered for the event kind. A failed
// handler never undoes the commit that produced the event.
package notify
