package scheduler

import "github.com/luxfi/banking-scheduler/scheduler/threadset"

// RoundRobinSelector returns a types.Selector that cycles through the
// schedulable set starting after the thread it last picked, the
// simplest load-balancing policy satisfying spec.md §9's "selector is
// caller-supplied" note.
func RoundRobinSelector(numThreads int) func(threadset.ThreadSet) threadset.ThreadID {
	last := threadset.ThreadID(numThreads - 1)
	return func(candidates threadset.ThreadSet) threadset.ThreadID {
		for i := 1; i <= numThreads; i++ {
			t := threadset.ThreadID((int(last) + i) % numThreads)
			if candidates.Contains(t) {
				last = t
				return t
			}
		}
		panic("scheduler: round-robin selector invoked with empty candidate set")
	}
}
