// Package coordinator turns budget records into send ceilings for attached payment
// streams.
//
// Each registered token owns a lane: its budget record, at most one attached stream and
// one boundary timer. Spend events, timer callbacks and attach/detach calls for a token
// are serialized on the lane, so a record is never mutated by two of them at once.
//
// Ceilings are cumulative. A stream is told the total it may have sent over its whole
// lifetime, which is the remaining window budget plus what it has already sent.
package coordinator
