// Package transport runs the UDP streaming loop: it tracks client sessions,
// answers control packets, and broadcasts producer state at a fixed rate.
//
// A Server uses two goroutines. The reader pulls datagrams off the socket
// with a short read deadline and hands them to a bounded channel. Run owns
// everything else: it dispatches inbound packets, runs the update cycle on a
// ticker, pings idle sessions and sweeps stale ones.
//
// Each update cycle reads the current frame from the Source, encodes it as a
// full snapshot or a diff, compresses it when worthwhile, splits it into
// MTU-sized fragments and writes it to every active session with that
// session's own sequence number. Writes use a short deadline; a session that
// cannot keep up is skipped for the cycle rather than blocking the others.
//
// Example:
//
//	srv := transport.New(transport.DefaultConfig(), source)
//	srv.SetCommandHandler(handler)
//	if err := srv.ListenAndRun(ctx); err != nil {
//	    log.Fatal(err)
//	}
package transport
