// Package hub shares one storage backend between processes.
//
// A Server exposes a store.Adapter over HTTP and fans every change out to
// websocket subscribers. A Client is the matching store.Adapter, so a
// store.Persistent value can be bound to a hub the same way it binds to a
// local backend:
//
//	srv := hub.NewServer(memory.NewBackend().Context())
//	go http.ListenAndServe(":7070", srv)
//
//	client, err := hub.NewClient("http://localhost:7070")
//	cart, err := store.Open(root, client, "cart", []Item{})
//
// Endpoints:
//
//	GET    /v1/keys/{key}   stored bytes, 404 when absent
//	PUT    /v1/keys/{key}   replace the value
//	DELETE /v1/keys/{key}   remove the key
//	GET    /v1/watch        websocket stream of JSON store.Change frames
//	GET    /healthz         liveness
//	GET    /metrics         Prometheus exposition
//
// Writers identify themselves with the X-Pulse-Origin header (or the origin
// query parameter). A change is never echoed to the subscriber that made it.
//
// A Client whose stream drops logs the error and redials with exponential
// backoff. Once reconnected it reloads every key it has loaded or written
// and reports the ones that changed while it was disconnected.
package hub
