// Package cache provides the memoizing cache used for pipeline state.
//
// Pipeline states are expensive to build (shader lookup, compilation,
// validation) and immutable once built, so they are created at most once
// per key and kept for the lifetime of the owning component:
//
//	c := cache.New[string, driver.ComputePipelineState]()
//	pso, err := c.GetOrCreate("add_arrays", func() (driver.ComputePipelineState, error) {
//	    return device.NewComputePipelineState(fn)
//	})
//
// # Thread Safety
//
// Cache is safe for concurrent use. The create function runs under the
// cache lock, so two goroutines racing on the first request for a key
// never build twice. Cache must not be copied after creation.
package cache
