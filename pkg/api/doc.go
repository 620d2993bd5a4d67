/*
Package api exposes the engine over REST.

Routes group by entity under /api:

	POST   /api/grids                  create (202, provisions async)
	GET    /api/grids                  list
	GET    /api/grids/:uid             get
	DELETE /api/grids/:uid             terminate
	POST   /api/grids/:uid/activate    resume
	POST   /api/grids/:uid/pause       suspend
	POST   /api/grids/:uid/recompute   rederive aggregates
	GET    /api/grids/:uid/workers     list grid workers

	POST   /api/workers                create in a grid
	GET    /api/workers                list (?grid_uid=&status=)
	GET    /api/workers/:uid           get
	DELETE /api/workers/:uid           delete
	POST   /api/workers/:uid/online    register / resume
	POST   /api/workers/:uid/offline   drain
	POST   /api/workers/:uid/heartbeat liveness

	POST   /api/functions              create (ready)
	GET    /api/functions              list
	GET    /api/functions/:uid         get
	PUT    /api/functions/:uid         update definition
	DELETE /api/functions/:uid         delete (cascades tasks)
	POST   /api/functions/:uid/start   batch inputs and run
	POST   /api/functions/:uid/cancel  cancel with its tasks
	GET    /api/functions/:uid/tasks   list tasks

	POST   /api/tasks/claim            worker poll (200 assignment, 204 empty)
	GET    /api/tasks/:uid             get
	POST   /api/tasks/:uid/report      terminal outcome

	POST   /api/cluster/join           add Raft voter (token gated)
	GET    /api/cluster/servers        Raft membership
	POST   /api/cluster/token          mint join token (leader only)
	GET    /api/events                 SSE event stream

	GET    /health /ready /metrics

Error mapping: unknown entity 404; illegal lifecycle transition, conflicting
claim, or unsatisfiable resources 409 with a retryable flag; malformed body
400. The claim endpoint maps an empty queue to 204 so workers distinguish
"poll later" from a real failure.
*/
package api
