package saga_test

import (
	. "github.com/sagabus/sagabus/saga"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Base", func() {
	var base Base

	BeforeEach(func() {
		base = NewBase("<instance>")
	})

	It("exposes the identifier it was created with", func() {
		Expect(base.ID()).To(Equal("<instance>"))
	})

	Describe("func Associate()", func() {
		It("adds the association value", func() {
			v := AssociationValue{Key: "<key>", Value: "<value>"}

			base.Associate(v)

			Expect(base.AssociationValues()).To(ConsistOf(v))
		})

		It("does not add duplicate association values", func() {
			v := AssociationValue{Key: "<key>", Value: "<value>"}

			base.Associate(v)
			base.Associate(v)

			Expect(base.AssociationValues()).To(HaveLen(1))
		})
	})

	Describe("func Dissociate()", func() {
		It("removes the association value", func() {
			a := AssociationValue{Key: "<key>", Value: "<value-a>"}
			b := AssociationValue{Key: "<key>", Value: "<value-b>"}

			base.Associate(a)
			base.Associate(b)
			base.Dissociate(a)

			Expect(base.AssociationValues()).To(ConsistOf(b))
		})

		It("has no effect if the value is not held", func() {
			base.Dissociate(AssociationValue{Key: "<key>", Value: "<value>"})

			Expect(base.AssociationValues()).To(BeEmpty())
		})
	})

	Describe("func End()", func() {
		It("marks the saga as inactive", func() {
			Expect(base.Active()).To(BeTrue())

			base.End()

			Expect(base.Active()).To(BeFalse())
		})
	})
})
