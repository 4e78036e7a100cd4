package memoryconnector_test

import (
	"context"
	"errors"
	"testing"

	"github.com/sagabus/sagabus/command"
	. "github.com/sagabus/sagabus/command/memoryconnector"
	. "github.com/sagabus/sagabus/fixtures"
	"github.com/sagabus/sagabus/parcel"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestMemoryConnector(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "memoryconnector package")
}

var _ = Describe("type Connector", func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		connector *Connector
		pcl       parcel.Parcel
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())

		connector = &Connector{}

		pcl = NewParcel("<id>", MessageC{Value: "<command>"})
	})

	AfterEach(func() {
		cancel()
	})

	Describe("func Send()", func() {
		It("executes the subscribed handler", func() {
			handled := false

			_, err := connector.Subscribe(
				pcl.Envelope.GetPortableName(),
				command.HandlerFunc(func(
					_ context.Context,
					p parcel.Parcel,
				) (parcel.Parcel, error) {
					handled = true
					Expect(p).To(Equal(pcl))
					return parcel.Parcel{}, nil
				}),
			)
			Expect(err).ShouldNot(HaveOccurred())

			err = connector.Send(ctx, "<key>", pcl, nil)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(handled).To(BeTrue())
		})

		It("reports the handler's outcome via the callback", func() {
			reply := NewParcel("<reply>", MessageB{Value: "<reply>"})
			cause := errors.New("<handler error>")

			_, err := connector.Subscribe(
				pcl.Envelope.GetPortableName(),
				command.HandlerFunc(func(
					context.Context,
					parcel.Parcel,
				) (parcel.Parcel, error) {
					return reply, cause
				}),
			)
			Expect(err).ShouldNot(HaveOccurred())

			called := false

			err = connector.Send(ctx, "<key>", pcl, func(p parcel.Parcel, err error) {
				called = true
				Expect(p).To(Equal(reply))
				Expect(err).To(Equal(cause))
			})
			Expect(err).ShouldNot(HaveOccurred())
			Expect(called).To(BeTrue())
		})

		It("returns an error if no handler is subscribed", func() {
			err := connector.Send(ctx, "<key>", pcl, nil)
			Expect(err).Should(HaveOccurred())
		})
	})

	Describe("func Subscribe()", func() {
		It("rejects duplicate subscriptions", func() {
			h := command.HandlerFunc(func(
				context.Context,
				parcel.Parcel,
			) (parcel.Parcel, error) {
				return parcel.Parcel{}, nil
			})

			_, err := connector.Subscribe("<name>", h)
			Expect(err).ShouldNot(HaveOccurred())

			_, err = connector.Subscribe("<name>", h)
			Expect(err).Should(HaveOccurred())
		})

		It("allows resubscription after cancellation", func() {
			h := command.HandlerFunc(func(
				context.Context,
				parcel.Parcel,
			) (parcel.Parcel, error) {
				return parcel.Parcel{}, nil
			})

			reg, err := connector.Subscribe("<name>", h)
			Expect(err).ShouldNot(HaveOccurred())

			reg.Cancel()

			_, err = connector.Subscribe("<name>", h)
			Expect(err).ShouldNot(HaveOccurred())
		})
	})
})
