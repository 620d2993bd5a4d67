/*
Package client provides a Go client library for the Vinci4D REST API.

The client wraps the control plane's HTTP API with a convenient, idiomatic Go
interface. It handles request encoding, response decoding, and maps HTTP error
responses back onto the errdefs sentinel errors so callers can use the same
predicates on both sides of the wire.

# Architecture

	┌──────────────────── APPLICATION CODE ──────────────────────┐
	│                                                            │
	│  import "github.com/vinci4d/engine/pkg/client"             │
	│                                                            │
	│  c := client.NewClient("manager:8080")                     │
	│  grid, err := c.CreateGrid("render", 4, 4)                 │
	│                                                            │
	└──────────────────┬─────────────────────────────────────────┘
	                   │
	┌──────────────────▼──── pkg/client ─────────────────────────┐
	│                                                            │
	│  ┌──────────────────────────────────────────────┐          │
	│  │           Client Wrapper                     │          │
	│  │  - Typed methods per resource                │          │
	│  │  - JSON encoding / decoding                  │          │
	│  │  - HTTP status -> errdefs mapping            │          │
	│  └──────────────────┬───────────────────────────┘          │
	│                     │ HTTP/JSON                            │
	└─────────────────────┼──────────────────────────────────────┘
	                      ▼
	            Vinci4D control plane (pkg/api)

# Error Mapping

HTTP status codes are translated back onto sentinel errors:

	404 Not Found          -> errdefs.ErrNotFound
	409 Conflict           -> errdefs.ErrInvalidState (or ErrResourceExhausted
	                          for claim calls that found no fitting task)
	204 No Content (claim) -> errdefs.ErrNoTask
	transport failure      -> errdefs.ErrDownstream

# Usage

Worker poll loop:

	c := client.NewClient(managerAddr)
	for {
		assignment, err := c.ClaimTask(workerUID)
		if errdefs.IsNoTask(err) {
			time.Sleep(pollInterval)
			continue
		}
		if err != nil {
			return err
		}
		result, runErr := run(assignment)
		_, _ = c.ReportTask(assignment.TaskUID, runErr == nil, result, errString(runErr), workerUID)
	}
*/
package client
