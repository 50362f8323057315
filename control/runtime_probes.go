// control/runtime_probes.go
// Author: momentics <momentics@gmail.com>

package control

import "runtime"

func registerRuntimeProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any { return runtime.NumCPU() })
	dp.RegisterProbe("runtime.gomaxprocs", func() any { return runtime.GOMAXPROCS(0) })
	dp.RegisterProbe("runtime.goroutines", func() any { return runtime.NumGoroutine() })
	dp.RegisterProbe("runtime.version", func() any { return runtime.Version() })
}
