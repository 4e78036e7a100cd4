package sagabus_test

import (
	"context"
	"testing"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	. "github.com/sagabus/sagabus"
	"github.com/sagabus/sagabus/eventstream/memorystream"
	"github.com/sagabus/sagabus/fixtures"
	"github.com/sagabus/sagabus/persistence/memorypersistence"
	"github.com/sagabus/sagabus/saga"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestEngine(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "sagabus package")
}

var _ = Describe("type Engine", func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		stream    *memorystream.Stream
		dataStore *memorypersistence.DataStore
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 3*time.Second)

		stream = &memorystream.Stream{}

		dataStore = &memorypersistence.DataStore{
			Marshaler: fixtures.Marshaler,
		}
	})

	AfterEach(func() {
		cancel()
	})

	Describe("func Run()", func() {
		It("processes events across a pool of workers", func() {
			engine := New(
				WithDefinitions(
					fixtures.NewSagaDefinition("<saga>", saga.CreateIfNoneFound),
				),
				WithStream(stream),
				WithRepository(dataStore),
				WithUnitOfWorkFactory(dataStore),
				WithWorkerCount(3),
				WithShutdownTimeout(100*time.Millisecond),
				WithLogger(logging.DiscardLogger{}),
			)

			result := make(chan error, 1)
			go func() {
				result <- engine.Run(ctx)
			}()

			stream.Append(
				fixtures.NewParcel("<event-1>", fixtures.MessageA{Value: "<value>"}),
			)

			find := func() []string {
				ids, err := dataStore.Find(
					ctx,
					"<saga>",
					saga.AssociationValue{Key: "value", Value: "<value>"},
				)
				Expect(err).ShouldNot(HaveOccurred())
				return ids
			}

			var ids []string
			Eventually(func() []string {
				ids = find()
				return ids
			}).Should(HaveLen(1))

			// No other worker creates a competing instance.
			Consistently(find).Should(HaveLen(1))

			stream.Append(
				fixtures.NewParcel("<event-2>", fixtures.MessageB{Value: "<value>"}),
			)

			Eventually(func() []string {
				s, err := dataStore.Load(ctx, "<saga>", ids[0])
				Expect(err).ShouldNot(HaveOccurred())
				return s.(*fixtures.SagaStub).Handled
			}).Should(HaveLen(2))

			cancel()

			var err error
			Eventually(result).Should(Receive(&err))
			Expect(err).To(Equal(context.Canceled))
		})
	})
})

var _ = Describe("func New()", func() {
	It("panics if no definitions are configured", func() {
		Expect(func() {
			New(
				WithStream(&memorystream.Stream{}),
				WithRepository(&memorypersistence.DataStore{}),
				WithUnitOfWorkFactory(&memorypersistence.DataStore{}),
			)
		}).To(Panic())
	})

	It("panics if no stream is configured", func() {
		Expect(func() {
			New(
				WithDefinitions(
					fixtures.NewSagaDefinition("<saga>", saga.CreateAlways),
				),
				WithRepository(&memorypersistence.DataStore{}),
				WithUnitOfWorkFactory(&memorypersistence.DataStore{}),
			)
		}).To(Panic())
	})

	It("panics if no repository is configured", func() {
		Expect(func() {
			New(
				WithDefinitions(
					fixtures.NewSagaDefinition("<saga>", saga.CreateAlways),
				),
				WithStream(&memorystream.Stream{}),
				WithUnitOfWorkFactory(&memorypersistence.DataStore{}),
			)
		}).To(Panic())
	})

	It("panics if no unit-of-work factory is configured", func() {
		Expect(func() {
			New(
				WithDefinitions(
					fixtures.NewSagaDefinition("<saga>", saga.CreateAlways),
				),
				WithStream(&memorystream.Stream{}),
				WithRepository(&memorypersistence.DataStore{}),
			)
		}).To(Panic())
	})
})
