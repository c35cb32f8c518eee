package hk_test

import (
	"time"

	"github.com/solidgo/mpipc/hk"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Housekeeper", func() {
	It("fires a registered job after its delay", func() {
		fired := make(chan struct{}, 1)
		hk.Reg("once", func() time.Duration {
			fired <- struct{}{}
			return -1
		}, 10*time.Millisecond)

		Eventually(fired, time.Second).Should(Receive())
	})

	It("reschedules a job that returns a positive interval", func() {
		calls := make(chan struct{}, 8)
		hk.Reg("periodic", func() time.Duration {
			calls <- struct{}{}
			return 10 * time.Millisecond
		}, 5*time.Millisecond)

		Eventually(calls, time.Second).Should(Receive())
		Eventually(calls, time.Second).Should(Receive())
		hk.Unreg("periodic")
	})

	It("silently drops an unregistered job", func() {
		called := false
		hk.Reg("cancel-me", func() time.Duration {
			called = true
			return -1
		}, 50*time.Millisecond)
		hk.Unreg("cancel-me")

		Consistently(func() bool { return called }, 100*time.Millisecond).Should(BeFalse())
	})

	It("replaces a job registered under the same name", func() {
		first := make(chan struct{}, 1)
		second := make(chan struct{}, 1)
		hk.Reg("dup", func() time.Duration {
			first <- struct{}{}
			return -1
		}, 200*time.Millisecond)
		hk.Reg("dup", func() time.Duration {
			second <- struct{}{}
			return -1
		}, 5*time.Millisecond)

		Eventually(second, time.Second).Should(Receive())
		Consistently(first, 250*time.Millisecond).ShouldNot(Receive())
	})
})
