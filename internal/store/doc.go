// Package store provides SQLite-backed durable storage for experiment logs.
//
// The store keeps four tables:
//   - runs: one row per task run with its timeline and fingerprint
//   - events: append-only task/step/pause lifecycle entries
//   - progress: periodic elapsed/remaining snapshots
//   - samples: raw limb acceleration, written in batches
//
// Ordering within a run always uses the seq column (logical clock), never
// the informational timestamp. Updates and deletes on events are rejected
// by triggers.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
