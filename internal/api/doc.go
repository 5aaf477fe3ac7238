// Package api provides the HTTP REST API and WebSocket server for
// Hearth.
//
// It exposes the live state store, recorded history, and a real-time
// event stream to user interfaces and external tooling:
//
//	GET  /healthz                     liveness (no auth)
//	GET  /api/states                  all current entity states
//	GET  /api/states/{entity_id}      one entity state
//	POST /api/states/{entity_id}      write an entity state
//	GET  /api/history/{entity_id}     recorded history window
//	GET  /ws                          WebSocket event stream
//
// All /api routes require an HS256 bearer token signed with the
// configured secret; the WebSocket accepts the same token via the
// "token" query parameter.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple
// goroutines.
package api
