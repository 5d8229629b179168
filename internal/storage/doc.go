// Package storage persists the bridge's durable state: the subscriber
// snapshot (distribution list with per-user group and mute sets), the
// forwarded-message history, and per-day subscriber counts.
//
// Two drivers are provided: sqlite (default) and a dependency-free file
// backend. Both treat the subscriber snapshot as a whole-state write-through;
// distribution lists are small, so incremental writes are not worth the
// consistency risk.
package storage
