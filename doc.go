// Package mcp implements the connection and message-exchange core of the
// Model Context Protocol: the JSON-RPC 2.0 codec, the session state
// machine with capability negotiation, request/response correlation with
// timeouts and cancellation, and the stdio and streamable HTTP transports.
//
// The root package re-exports the pieces most programs need; the full
// surface lives under pkg/.
//
// A minimal client over stdio:
//
//	t := transport.NewStdio(transport.StdioConfig{})
//	c, err := client.New(t, client.WithName("example", "1.0.0"))
//	if err != nil {
//		log.Fatal(err)
//	}
//	if _, err := c.Connect(ctx); err != nil {
//		log.Fatal(err)
//	}
//	tools, err := c.ListTools(ctx, "")
package mcp
