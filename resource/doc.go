// Package resource implements the Controller for memory and worker budgets.
//
// The Controller provides centralized management of two resource types:
//
//   - Memory: Track and limit segment memory across arrays (non-blocking, fail-fast)
//   - Concurrency: Limit the goroutines a teardown may fan out to
//
// # Memory Management
//
// Memory tracking uses a weighted semaphore for hard limits and atomic counters
// for usage tracking. AcquireMemory is non-blocking and returns immediately
// with ErrMemoryLimitExceeded if the limit would be exceeded:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 64 << 20, // 64MB of segments
//	})
//
//	if err := rc.AcquireMemory(8192); err != nil {
//	    // ErrMemoryLimitExceeded - the allocation must not happen
//	}
//	defer rc.ReleaseMemory(8192)
//
// # Background Worker Limits
//
// Teardown of a tall tree walks root subtrees on extra goroutines, one slot each:
//
//	if rc.TryAcquireBackground() {
//	    go func() {
//	        defer rc.ReleaseBackground()
//	        // ...
//	    }()
//	}
//
// # Nil Safety
//
// All methods handle nil Controller gracefully. Memory calls become no-ops and
// TryAcquireBackground reports false, so work stays on the calling goroutine.
package resource
