package scheduler

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
)

// TestSchedulerSuite bootstraps the Ginkgo run for the end-to-end
// scenario in s6_test.go. Assertions inside specs use testify's
// require (via ginkgo.GinkgoT()) rather than gomega, matching the
// teacher's plain-require test style elsewhere in this repo.
func TestSchedulerSuite(t *testing.T) {
	RunSpecs(t, "scheduler end-to-end suite")
}
