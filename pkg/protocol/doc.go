// ABOUTME: Stagesound control protocol package
// ABOUTME: Defines protocol messages and the WebSocket client
// Package protocol implements the stagesound control protocol.
//
// Messages are JSON envelopes {"type", "id", "payload"} sent over a WebSocket.
// A client opens with client/hello, the server answers server/hello, and from
// then on each command receives a result carrying the same id. Engine events
// are broadcast to every client.
//
// Example:
//
//	client := protocol.NewClient(protocol.Config{ServerAddr: "localhost:8928", Name: "cue"})
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close()
//	res, err := client.Send(ctx, protocol.Command{Layer: protocol.LayerBgm, Op: protocol.OpPlay, Src: "theme.ogg"})
package protocol
