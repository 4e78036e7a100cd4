package command_test

import (
	"context"
	"errors"
	"testing"

	. "github.com/sagabus/sagabus/command"
	. "github.com/sagabus/sagabus/fixtures"
	"github.com/sagabus/sagabus/parcel"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestCommand(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "command package")
}

var _ = Describe("type Bus", func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		pcl       parcel.Parcel
		connector *ConnectorStub
		bus       *Bus
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())

		pcl = NewParcel("<id>", MessageC{Value: "<command>"})

		connector = &ConnectorStub{}

		bus = &Bus{
			Connector: connector,
			Strategy: RouteKeyFunc(func(p parcel.Parcel) string {
				return p.Envelope.GetCorrelationId()
			}),
		}
	})

	AfterEach(func() {
		cancel()
	})

	Describe("func Dispatch()", func() {
		It("sends the command via the connector exactly once", func() {
			count := 0

			connector.SendFunc = func(
				_ context.Context,
				key string,
				p parcel.Parcel,
				_ Callback,
			) error {
				count++
				Expect(key).To(Equal("<correlation>"))
				Expect(p).To(Equal(pcl))
				return nil
			}

			err := bus.Dispatch(ctx, pcl, nil)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(count).To(Equal(1))
		})

		It("computes the routing key exactly once per dispatch", func() {
			count := 0

			bus.Strategy = RouteKeyFunc(func(p parcel.Parcel) string {
				count++
				return "<key>"
			})

			err := bus.Dispatch(ctx, pcl, nil)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(count).To(Equal(1))
		})

		It("applies the interceptors in registration order", func() {
			var order []string

			bus.SetDispatchInterceptors([]DispatchInterceptor{
				DispatchInterceptorFunc(func(
					_ context.Context,
					p parcel.Parcel,
				) (parcel.Parcel, error) {
					order = append(order, "first")
					return p, nil
				}),
				DispatchInterceptorFunc(func(
					_ context.Context,
					p parcel.Parcel,
				) (parcel.Parcel, error) {
					order = append(order, "second")
					return p, nil
				}),
			})

			err := bus.Dispatch(ctx, pcl, nil)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(order).To(Equal([]string{"first", "second"}))
		})

		It("routes the parcel returned by the interceptors", func() {
			replacement := NewParcel("<replaced>", MessageC{Value: "<replaced>"})

			bus.SetDispatchInterceptors([]DispatchInterceptor{
				DispatchInterceptorFunc(func(
					_ context.Context,
					parcel.Parcel,
				) (parcel.Parcel, error) {
					return replacement, nil
				}),
			})

			connector.SendFunc = func(
				_ context.Context,
				_ string,
				p parcel.Parcel,
				_ Callback,
			) error {
				Expect(p).To(Equal(replacement))
				return nil
			}

			err := bus.Dispatch(ctx, pcl, nil)
			Expect(err).ShouldNot(HaveOccurred())
		})

		It("returns an interceptor error without consulting the connector", func() {
			bus.SetDispatchInterceptors([]DispatchInterceptor{
				DispatchInterceptorFunc(func(
					_ context.Context,
					parcel.Parcel,
				) (parcel.Parcel, error) {
					return parcel.Parcel{}, errors.New("<rejected>")
				}),
			})

			connector.SendFunc = func(
				context.Context,
				string,
				parcel.Parcel,
				Callback,
			) error {
				Fail("unexpected call")
				return nil
			}

			err := bus.Dispatch(ctx, pcl, nil)
			Expect(err).To(MatchError("<rejected>"))
		})

		It("wraps connector failures in a DispatchError", func() {
			cause := errors.New("<connector error>")

			connector.SendFunc = func(
				context.Context,
				string,
				parcel.Parcel,
				Callback,
			) error {
				return cause
			}

			err := bus.Dispatch(ctx, pcl, nil)

			var de DispatchError
			Expect(errors.As(err, &de)).To(BeTrue())
			Expect(de.Key).To(Equal("<correlation>"))
			Expect(errors.Is(err, cause)).To(BeTrue())
		})

		It("wraps connector failures in a DispatchError when a callback is supplied", func() {
			cause := errors.New("<connector error>")

			connector.SendFunc = func(
				context.Context,
				string,
				parcel.Parcel,
				Callback,
			) error {
				return cause
			}

			err := bus.Dispatch(ctx, pcl, func(parcel.Parcel, error) {
				Fail("unexpected call")
			})

			var de DispatchError
			Expect(errors.As(err, &de)).To(BeTrue())
		})

		It("passes the callback to the connector", func() {
			cb := func(parcel.Parcel, error) {}

			connector.SendFunc = func(
				_ context.Context,
				_ string,
				_ parcel.Parcel,
				cb Callback,
			) error {
				Expect(cb).ShouldNot(BeNil())
				return nil
			}

			err := bus.Dispatch(ctx, pcl, cb)
			Expect(err).ShouldNot(HaveOccurred())
		})
	})

	Describe("func Subscribe()", func() {
		It("cancels the connector registration exactly once", func() {
			count := 0

			connector.SubscribeFunc = func(
				string,
				Handler,
			) (Registration, error) {
				return RegistrationStub{
					CancelFunc: func() {
						count++
					},
				}, nil
			}

			reg, err := bus.Subscribe("<name>", nil)
			Expect(err).ShouldNot(HaveOccurred())

			reg.Cancel()
			reg.Cancel()
			Expect(count).To(Equal(1))
		})

		It("returns an error if the connector subscription fails", func() {
			connector.SubscribeFunc = func(
				string,
				Handler,
			) (Registration, error) {
				return nil, errors.New("<subscribe error>")
			}

			_, err := bus.Subscribe("<name>", nil)
			Expect(err).To(MatchError("<subscribe error>"))
		})
	})
})

var _ = Describe("type RoutingTable", func() {
	It("uses the extractor for the command's portable name", func() {
		pcl := NewParcel("<id>", MessageC{Value: "<value>"})

		table := RoutingTable{
			Extractors: map[string]func(p parcel.Parcel) string{
				pcl.Envelope.GetPortableName(): func(p parcel.Parcel) string {
					return p.Message.(MessageC).Value
				},
			},
		}

		Expect(table.RouteKey(pcl)).To(Equal("<value>"))
	})

	It("falls back to the correlation ID for unmapped commands", func() {
		pcl := NewParcel("<id>", MessageC{Value: "<value>"})

		table := RoutingTable{}

		Expect(table.RouteKey(pcl)).To(Equal("<correlation>"))
	})

	It("uses the fallback extractor if one is provided", func() {
		pcl := NewParcel("<id>", MessageC{Value: "<value>"})

		table := RoutingTable{
			Fallback: func(p parcel.Parcel) string {
				return "<fallback>"
			},
		}

		Expect(table.RouteKey(pcl)).To(Equal("<fallback>"))
	})
})
