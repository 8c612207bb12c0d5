// Package storage persists the moderation audit log.
//
// Drivers:
//   - file: JSON Lines, no dependencies beyond the standard library
//   - sqlite: modernc.org/sqlite (pure Go)
//   - badger: embedded key/value store
//
// Restriction state itself is never persisted; Telegram keeps each
// restriction's until date on its side.
package storage
