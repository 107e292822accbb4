/*
Package metrics records Prometheus metrics for the orchestration
service: execution lifecycle, node dispatch, gateway joins, approval
checkpoints, group chats, handoffs, and the HTTP surface.

Collector registers everything through promauto under a configurable
namespace. Wiring code creates one Collector and shares it; tests use
NewCollectorWith with a private registry to avoid duplicate
registration panics.
*/
package metrics
