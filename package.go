// Package fiber provides stackful, cooperatively scheduled fibers and
// an event engine that lets them wait on descriptor readiness. It is
// designed to run many thousands of blocking-style network operations
// on one thread of control: a fiber that would block registers interest
// with the engine and switches back to its scheduler, which runs other
// ready fibers until the operating system reports readiness.
//
// Key components:
//
//   - Fiber: a unit of execution with its own stack, created with
//     Scheduler.Spawn or Scheduler.Go. A fiber runs until it yields,
//     waits (WaitFD, WaitBatch, Sleep) or returns.
//
//   - Scheduler: owns the FIFO ready queue and the running fiber, and
//     implements the cooperative loop (Run, RunOnce). The loop exits
//     once no fiber is ready and none is waiting on readiness or a
//     timer.
//
//   - Event engine: wraps epoll on Linux and poll(2) elsewhere, tracks
//     per-descriptor interests and deadlines, and readies the owning
//     fibers when they fire.
//
//   - Batch: a single wait spanning several descriptors, used to
//     emulate poll and select.
//
//   - Synchronization primitives: Mutex, WaitGroup, Semaphore, Group
//     and per-scheduler single-flight (Fiber.Do).
//
// The sibling package hook turns standard blocking socket and
// name-resolution calls into fiber waits.
package fiber
