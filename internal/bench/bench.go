// Package bench derives speed-up figures from a pair of execution metrics.
package bench

import "github.com/yourorg/speedbench/pkg/types"

// MinDenominator keeps the speed-up finite for sub-resolution cluster timings.
const MinDenominator = 1e-4

// WorkerCount returns the worker count to normalise efficiency with:
// the one reported by the cluster run when present, else the configured one.
func WorkerCount(cluster types.ExecutionMetric, configured int) int {
	if cluster.WorkerCount > 0 {
		return cluster.WorkerCount
	}
	return configured
}

// Compare returns the comparison of single against cluster. The second
// result is false when either metric is absent or the worker count is not
// positive; no comparison is produced then.
func Compare(single, cluster types.ExecutionMetric, workerCount int) (types.BenchmarkComparison, bool) {
	if !single.Present() || !cluster.Present() {
		return types.BenchmarkComparison{}, false
	}
	workers := WorkerCount(cluster, workerCount)
	if workers <= 0 {
		return types.BenchmarkComparison{}, false
	}
	speedup := single.ElapsedSeconds / max(cluster.ElapsedSeconds, MinDenominator)
	return types.BenchmarkComparison{
		SingleSeconds:  single.ElapsedSeconds,
		ClusterSeconds: cluster.ElapsedSeconds,
		WorkerCount:    workers,
		Speedup:        speedup,
		Efficiency:     speedup / float64(workers) * 100,
	}, true
}
