// Package poker implements real-time estimation sessions over WebSockets.
//
// It keeps connection lifecycle and fan-out isolated from the estimation
// rules so the round state machine and vote ledger remain the source of truth
// for session state transitions.
package poker
