// Package cache holds the client's local entity state.
//
// It has two retention policies:
//
//   - LRU bounds recent messages to a fixed capacity (default 1000). Put marks
//     an entry most recently used; Get reads without touching so that lookups
//     of an edited or deleted message's previous state don't extend its life.
//     Touch reads and refreshes, for explicit fetches.
//   - Map keeps channels and guilds with no eviction. Their cardinality is
//     small next to message volume, so the latest value simply replaces the
//     previous one.
//
// Both types are safe for concurrent use.
package cache
