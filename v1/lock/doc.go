// Package lock provides distributed mutual exclusion on top of an
// adapter.Store. Simple retries SET NX until the lock is free; Queued makes
// contenders wait in a store-side list so they acquire in arrival order.
// Every lock carries a random token and a TTL, and only the token holder can
// release it. Waiters poll on a fixed interval and, when a syncbus.Bus is
// configured, also wake up as soon as a holder releases.
package lock
