// Package backoff provides exponential backoff with jitter and a small retry
// loop used by storage backends on write conflicts and by event publishers.
package backoff
