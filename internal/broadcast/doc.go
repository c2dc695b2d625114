// Package broadcast provides single-producer, multi-consumer channels.
//
// Two flavours are provided:
//   - Subject: pure fan-out, values published while nobody listens are dropped
//   - Replay: fan-out that remembers the last value and hands it to every new
//     subscriber before any live value
//
// Every Subscription owns an unbounded queue and a pump goroutine, so a slow
// consumer never blocks the publisher and never loses a value. Pending reports
// how far a consumer has fallen behind. Consumers must either read C() until
// it closes or call Unsubscribe; Drain detaches without discarding the backlog.
package broadcast
