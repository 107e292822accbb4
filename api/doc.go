// Package api exposes the workflow orchestration service over HTTP.
//
// It provides a RESTful API for:
//   - Registering workflow graph definitions (JSON or YAML)
//   - Starting, inspecting, cancelling, and retrying executions
//   - Streaming execution events over websockets
//   - Listing and deciding human-approval checkpoints
//   - Health monitoring and Prometheus metrics
//
// The default base URL for the API is:
//
//	http://localhost:8080
package api
