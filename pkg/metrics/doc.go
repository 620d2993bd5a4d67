/*
Package metrics provides Prometheus instrumentation for the engine.

All metrics are registered on the default registry at init and exposed
through Handler(). Two kinds of metrics live here:

Event-driven counters and histograms, incremented at the call site:

  - vinci4d_claims_total{result}: claim attempts (assigned, no_task,
    exhausted, error)
  - vinci4d_claim_latency_seconds: time to resolve a claim
  - vinci4d_reports_total{outcome}: task reports (completed, failed,
    duplicate)
  - vinci4d_tasks_timed_out_total, vinci4d_workers_demoted_total:
    supervisor sweep actions
  - vinci4d_deploy_retries_total, vinci4d_deploy_dead_letters_total:
    deploy dispatcher outcomes
  - vinci4d_api_requests_total{method,status},
    vinci4d_api_request_duration_seconds{method}

Sampled gauges, refreshed every 15 seconds by the Collector from a Source
(the manager):

  - vinci4d_grids_total{status}, vinci4d_workers_total{status},
    vinci4d_functions_total{status}, vinci4d_tasks_total{status}
  - vinci4d_grid_utilization_percent{grid}
  - vinci4d_raft_is_leader

# Usage

	collector := metrics.NewCollector(mgr)
	collector.Start()
	defer collector.Stop()

	http.Handle("/metrics", metrics.Handler())

Timing an operation:

	timer := metrics.NewTimer()
	res, err := store.ClaimTask(workerUID)
	timer.ObserveDuration(metrics.ClaimLatency)
*/
package metrics
