// Package client implements the receiving side of a lumenstream.
//
// A Client connects to a transport.Server, answers its keep-alive pings,
// reassembles and decompresses state messages and applies them to a local
// mirror of the producer's pixel matrix:
//
//	c, err := client.Dial(client.Config{
//	    Server: "10.0.0.2:8081",
//	    Name:   "panel",
//	    OnFrame: func(g protocol.Geometry, pixels []byte) {
//	        draw(g, pixels)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	go c.Run(ctx)
//	if err := c.Connect(ctx); err != nil {
//	    return err
//	}
//
// A diff that arrives before any full snapshot, or that does not match the
// mirrored geometry, is discarded; the server's periodic keyframes bring the
// mirror back in line.
//
// Commands flow the other way with SendCommand.
package client
