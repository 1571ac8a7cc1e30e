/*
Package workers sizes the archive's worker pools in containerized
environments.

Go 1.19+ sets GOMAXPROCS from the container CPU limit, but runtime.NumCPU()
still reports the host's CPUs. Every helper here starts from GOMAXPROCS so
a pod limited to 2 CPUs on a 64-core node starts 2-4 workers, not 64.

# Workload Types

	workers.CPU.Count(8)   // derivative encoding: 1 worker per CPU
	workers.IO.Count(16)   // sidecar and tool work: 2 per CPU
	workers.Mixed.Count(8) // per-file ingest (read, hash, decode, write)

ForCPU, ForIO and ForMixed are shorthands for the same calls. The limit
argument caps the result; 0 means no cap.

# Environment Variable Override

INGEST_WORKERS pins every count (still subject to the limit):

	env:
	- name: INGEST_WORKERS
	  value: "4"

Resolve lets a configuration layer prefer an explicit pool size over the
heuristic.
*/
package workers
