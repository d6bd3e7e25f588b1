// Package gateway maintains the persistent push connection to the chat
// platform.
//
// # Lifecycle
//
//	Idle -> Connecting -> AwaitingHello -> Identifying -> Ready
//	                                 ^                      |
//	                                 +--- Reconnecting <----+ (op 7)
//	any state -> Closed
//
// Connect resolves the entry URL through a URLResolver, dials it, starts the
// reader goroutine and blocks until READY arrives. A handshake that does not
// reach READY within Config.HandshakeTimeout tears everything down and
// returns an *Error wrapping ErrHandshakeTimeout.
//
// # Reader
//
// Exactly one goroutine reads frames. For each payload it first records the
// sequence number, then reacts to the opcode:
//
//   - Hello: restart the heartbeat driver at the given interval, send Identify
//   - Dispatch: READY records the session id and user and unblocks Connect;
//     every dispatch goes to the EventSink
//   - Heartbeat: answer immediately
//   - Heartbeat ACK: record the ack time
//   - Reconnect: close the transport, dial a new one, keep reading
//   - Invalid session: wait Config.InvalidSessionBackoff, identify again
//
// Read errors, close frames and undecodable frames end the run. The error is
// returned by a pending Connect, otherwise it is reported by Err once Done is
// closed.
//
// # Writes
//
// Heartbeats, identify and Send share one write mutex and always write to
// the transport currently in the session slot, never to a captured one, so
// nothing is written to a transport replaced by a reconnect.
package gateway
