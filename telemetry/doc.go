// Package telemetry exports resource manager metrics to Prometheus.
//
//	c := telemetry.New(m)
//	reg, err := telemetry.NewRegistry(c)
//	http.Handle("/metrics", telemetry.Handler(reg))
//
// Exported series:
//
//	assetruntime_inflight_operations            gauge
//	assetruntime_manifests{status}              gauge
//	assetruntime_routines_total{routine,outcome} counter
//	assetruntime_failures_total{kind}           counter
//	assetruntime_gc_sweeps_total{policy}        counter
//	assetruntime_gc_collected_total             counter
//	assetruntime_manifests_created_total        counter
//	assetruntime_manifests_deleted_total        counter
package telemetry
