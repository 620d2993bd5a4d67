// Package supervisor runs the periodic health sweep on the leader: workers
// whose heartbeat went stale are taken offline, and running tasks that
// exceeded their function's timeout are failed so their function can roll up.
// A timed-out task releases its reservation like any other failed report.
package supervisor
