// Package ws implements the WebSocket hub for the reachability server.
//
// Hub manages a set of connected clients and pushes the current
// availability snapshot to all of them on a fixed interval.
//
// Message format sent to clients:
//
//	{
//	  "event": "snapshot",
//	  "data":  { /* same schema as GET /api/v1/snapshot */ }
//	}
//
// A client receives the current snapshot immediately on connect. The
// upgrader accepts all origins; apply CORS restrictions at the reverse
// proxy. The server mounts the hub at /ws.
package ws
