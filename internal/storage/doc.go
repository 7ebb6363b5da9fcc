// Package storage provides a minimal persistence layer used by the bot.
//
// It currently supports:
//   - Run ledger appends (one record per posting cycle)
//   - Optional poster dedup state (to survive restarts)
package storage
