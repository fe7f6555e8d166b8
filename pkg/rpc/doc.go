// Package rpc implements the wallet node's JSON-RPC 2.0 transport over websocket.
//
// The server side is a WebsocketNode. Methods are registered with Handle and
// run behind middleware added with Use; groups add middleware for a subset of
// methods:
//
//	node, err := rpc.NewWebsocketNode(rpc.WebsocketNodeConfig{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	node.Use(loggingMiddleware)
//
//	signing := node.NewGroup("signing")
//	signing.Use(requireAuth)
//	signing.Handle("personal_sign", handlePersonalSign)
//
//	http.Handle("/ws", node)
//
// Handlers read positional params from c.Request.Params and answer with
// c.Succeed or c.Fail. Errors created with Errorf reach the client with their
// code and message; any other error is replaced by a generic internal error.
//
// Server-initiated messages are JSON-RPC notifications (no id), such as the
// EIP-1193 chainChanged and accountsChanged events. Notify targets one user
// and Broadcast targets every connection.
//
// The client side is a Dialer, usually wrapped by Client for typed calls:
//
//	client := rpc.NewClient(rpc.NewWebsocketDialer(rpc.DefaultWebsocketDialerConfig))
//	if err := client.Start(ctx, "ws://localhost:8000/ws", nil); err != nil {
//	    return err
//	}
//	accounts, err := client.Accounts(ctx)
//
// Batch requests are not supported.
package rpc
