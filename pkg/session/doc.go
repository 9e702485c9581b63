// Package session tracks the remote clients of a stream.
//
// A Table maps each peer address to a Session. Sessions are created by a
// Connect, kept alive by any traffic from the peer, and evicted by Sweep once
// nothing has been heard for Timeout:
//
//	table := session.NewTable(session.DefaultConfig(), logger)
//	info, created, err := table.Register(addr, "panel", time.Now())
//	...
//	for _, gone := range table.Sweep(time.Now()) {
//	    logger.Info("session expired", "session_id", gone.ID)
//	}
//
// Each Session owns its outgoing sequence counter and the set of sequence
// numbers still waiting for an Ack. Acks are never retried, so the pending
// set is bounded and old entries are dropped.
//
// All Session state is guarded by the Table's mutex. Mutate it only inside
// Table.With or Table.Each.
package session
