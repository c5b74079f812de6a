package mmu

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/shiba/vm"
)

var _ = Describe("MMU", func() {
	var (
		mockCtrl   *gomock.Controller
		readyQueue *MockReadyQueue
		m          *Comp
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		readyQueue = NewMockReadyQueue(mockCtrl)

		m = MakeBuilder().
			WithNumFrames(4).
			WithFrameSize(16).
			WithReadyQueue(readyQueue).
			Build("MMU")
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	Context("building", func() {
		It("should boot with an empty initial process", func() {
			Expect(m.Current().PID).To(Equal(vm.PID(0)))
			Expect(m.Current().PageTable.NumValid()).To(Equal(0))
			Expect(m.FrameTable().NumFrames()).To(Equal(4))
		})

		It("should panic on an invalid configuration", func() {
			Expect(func() {
				MakeBuilder().WithNumFrames(0).Build("MMU")
			}).To(Panic())
		})
	})

	Context("allocating pages", func() {
		It("should map the smallest free frame", func() {
			pfn, err := m.AllocatePage(0, vm.AccessRead|vm.AccessWrite)

			Expect(err).ToNot(HaveOccurred())
			Expect(pfn).To(Equal(vm.PFN(0)))

			pte, found := m.Translate(0)
			Expect(found).To(BeTrue())
			Expect(pte.Writable).To(BeTrue())
			Expect(m.FrameTable().ShareCount(0)).To(Equal(uint32(1)))
		})

		It("should map read-only pages non-writable", func() {
			_, err := m.AllocatePage(3, vm.AccessRead)

			Expect(err).ToNot(HaveOccurred())

			pte, _ := m.Translate(3)
			Expect(pte.Writable).To(BeFalse())
			Expect(pte.COW).To(BeFalse())
		})

		It("should report out of memory when no frame is free", func() {
			for vpn := uint64(0); vpn < 4; vpn++ {
				_, err := m.AllocatePage(vpn, vm.AccessRead)
				Expect(err).ToNot(HaveOccurred())
			}

			_, err := m.AllocatePage(4, vm.AccessRead)

			Expect(err).To(MatchError(ErrOutOfMemory))
		})
	})

	Context("freeing pages", func() {
		It("should return the frame share and zero the PTE", func() {
			_, err := m.AllocatePage(0, vm.AccessWrite)
			Expect(err).ToNot(HaveOccurred())

			Expect(m.FreePage(0)).To(Succeed())

			Expect(m.FrameTable().ShareCount(0)).To(Equal(uint32(0)))
			_, found := m.Translate(0)
			Expect(found).To(BeFalse())
		})

		It("should keep the inner directory after the last free", func() {
			_, err := m.AllocatePage(0, vm.AccessWrite)
			Expect(err).ToNot(HaveOccurred())
			Expect(m.FreePage(0)).To(Succeed())

			Expect(m.Current().PageTable.DirectoryAt(0)).ToNot(BeNil())
		})

		It("should reject freeing an unmapped VPN", func() {
			Expect(m.FreePage(9)).To(MatchError(ErrNotMapped))
		})

		It("should reject a double free", func() {
			_, err := m.AllocatePage(0, vm.AccessWrite)
			Expect(err).ToNot(HaveOccurred())
			Expect(m.FreePage(0)).To(Succeed())

			Expect(m.FreePage(0)).To(MatchError(ErrNotMapped))
		})
	})

	Context("fault classification", func() {
		It("should report a segfault on an unmapped VPN", func() {
			err := m.HandlePageFault(0, vm.AccessRead)

			Expect(err).To(MatchError(ErrSegmentationFault))
		})

		It("should report a segfault on an invalid PTE", func() {
			_, err := m.AllocatePage(0, vm.AccessWrite)
			Expect(err).ToNot(HaveOccurred())
			Expect(m.FreePage(0)).To(Succeed())

			Expect(m.HandlePageFault(0, vm.AccessWrite)).
				To(MatchError(ErrSegmentationFault))
		})

		It("should report a segfault on a write to a read-only page",
			func() {
				_, err := m.AllocatePage(0, vm.AccessRead)
				Expect(err).ToNot(HaveOccurred())

				Expect(m.HandlePageFault(0, vm.AccessWrite)).
					To(MatchError(ErrSegmentationFault))
			})

		It("should resolve a write to a writable page as a no-op", func() {
			_, err := m.AllocatePage(0, vm.AccessWrite)
			Expect(err).ToNot(HaveOccurred())
			before, _ := m.Translate(0)

			Expect(m.HandlePageFault(0, vm.AccessWrite)).To(Succeed())

			after, _ := m.Translate(0)
			Expect(after).To(Equal(before))
			Expect(m.FrameTable().TotalShares()).To(Equal(uint64(1)))
		})

		It("should resolve a read on a valid page as a no-op", func() {
			_, err := m.AllocatePage(0, vm.AccessRead)
			Expect(err).ToNot(HaveOccurred())

			Expect(m.HandlePageFault(0, vm.AccessRead)).To(Succeed())
		})
	})

	Context("switching processes", func() {
		It("should swap current with the queued process", func() {
			parent := m.Current()
			next := vm.NewProcess(8, m.Config())

			readyQueue.EXPECT().FindByPID(vm.PID(8)).Return(next, true)
			readyQueue.EXPECT().Remove(next)
			readyQueue.EXPECT().Push(parent)

			sharesBefore := m.FrameTable().TotalShares()

			pid := m.SwitchOrFork(8)

			Expect(pid).To(Equal(vm.PID(8)))
			Expect(m.Current()).To(BeIdenticalTo(next))
			Expect(m.FrameTable().TotalShares()).To(Equal(sharesBefore),
				"a switch must not touch frame state")
		})
	})

	Context("forking", func() {
		BeforeEach(func() {
			_, err := m.AllocatePage(0, vm.AccessRead|vm.AccessWrite)
			Expect(err).ToNot(HaveOccurred())
			_, err = m.AllocatePage(17, vm.AccessRead)
			Expect(err).ToNot(HaveOccurred())
		})

		It("should duplicate the address space copy-on-write", func() {
			parent := m.Current()

			readyQueue.EXPECT().FindByPID(vm.PID(1)).Return(nil, false)
			readyQueue.EXPECT().Push(parent)

			pid := m.SwitchOrFork(1)

			Expect(pid).To(Equal(vm.PID(1)))
			child := m.Current()
			Expect(child).ToNot(BeIdenticalTo(parent))
			Expect(child.PID).To(Equal(vm.PID(1)))

			parentPTE, _ := parent.PageTable.Translate(0)
			childPTE, _ := child.PageTable.Translate(0)

			Expect(parentPTE.Writable).To(BeFalse())
			Expect(parentPTE.COW).To(BeTrue())
			Expect(childPTE.Writable).To(BeFalse())
			Expect(childPTE.COW).To(BeTrue())
			Expect(childPTE.PFN).To(Equal(parentPTE.PFN))
			Expect(m.FrameTable().ShareCount(parentPTE.PFN)).
				To(Equal(uint32(2)))
		})

		It("should not force read-only pages into COW", func() {
			readyQueue.EXPECT().FindByPID(vm.PID(1)).Return(nil, false)
			readyQueue.EXPECT().Push(gomock.Any())

			m.SwitchOrFork(1)

			childPTE, found := m.Current().PageTable.Translate(17)
			Expect(found).To(BeTrue())
			Expect(childPTE.Writable).To(BeFalse())
			Expect(childPTE.COW).To(BeFalse())
			Expect(m.FrameTable().ShareCount(childPTE.PFN)).
				To(Equal(uint32(2)))
		})

		It("should give the child identical mappings for every valid VPN",
			func() {
				parent := m.Current()

				readyQueue.EXPECT().FindByPID(vm.PID(1)).Return(nil, false)
				readyQueue.EXPECT().Push(parent)

				m.SwitchOrFork(1)
				child := m.Current()

				parent.PageTable.ForEachValid(
					func(vpn uint64, pte *vm.PTE) {
						childPTE, found := child.PageTable.Translate(vpn)
						Expect(found).To(BeTrue())
						Expect(childPTE.PFN).To(Equal(pte.PFN))
					})
				Expect(child.PageTable.NumValid()).
					To(Equal(parent.PageTable.NumValid()))
			})
	})
})
