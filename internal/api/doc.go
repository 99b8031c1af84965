// Package api hosts the optional HTTP control surface of a run. Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/stats for the counters printed on the console line.
//   - GET /v1/tier and PUT /v1/tier/{name} to read or switch the admission tier.
package api
