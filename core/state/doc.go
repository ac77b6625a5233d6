// Package state keeps per-conversation dialogue state in memory.
// It is domain-agnostic apart from the State values a bot defines.
package state
