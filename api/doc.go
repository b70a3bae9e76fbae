// Package api defines the wire types of the GraphRepair HTTP API.
//
// # API Overview
//
// GraphRepair exposes:
//   - Checkpoint storage: save, restore, list and mirror updates of
//     workflow versions per session
//   - Static analysis of missing connections in a workflow graph
//   - Repair runs streamed as Server-Sent Events or over a WebSocket
//   - Runtime configuration, health and readiness endpoints
//
// # Authentication
//
// When a JWT secret or public key is configured, every /api/v1 route
// requires a bearer token:
//
//	Authorization: Bearer <token>
//
// # Response Format
//
// Non-streaming endpoints return the Response envelope:
//
//	{
//	  "success": true,
//	  "data": { ... },
//	  "timestamp": "2024-01-01T00:00:00Z"
//	}
//
// Errors carry an ErrorInfo with a stable code such as INVALID_REQUEST,
// NOT_FOUND, SESSION_BUSY or STORE_UNAVAILABLE.
//
// # Repair streams
//
// POST /api/v1/repair/stream emits one `data: {record}` line per record and
// terminates with `data: [DONE]`. GET /api/v1/repair/ws sends one JSON
// record per message after receiving the RepairRequest as the first message.
package api
