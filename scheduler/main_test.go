package scheduler

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain uses goleak to verify tests in this package do not leak
// unexpected goroutines, following the teacher's core/main_test.go.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
