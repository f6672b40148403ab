// Package remote is the client side of canvas snapshot persistence.
//
// HTTPStore talks to the canvas API:
//
//	GET   {base}/v1/canvases/{id}   -> {"snapshot": "<payload>"}
//	PATCH {base}/v1/canvases/{id}   <- {"snapshot": "<payload>"}
//
// Responses may also come wrapped in the Retouch server envelope
// ({"code":..., "data": {"snapshot": ...}}); both forms are accepted.
// A 404 or an empty snapshot field is domain.ErrCanvasNotFound. Every other
// failure is domain.ErrRemoteTransport. Both calls are best effort and never
// retried here.
package remote
