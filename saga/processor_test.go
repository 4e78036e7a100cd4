package saga_test

import (
	"context"
	"errors"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/sagabus/sagabus/eventstream/memorystream"
	. "github.com/sagabus/sagabus/fixtures"
	"github.com/sagabus/sagabus/parcel"
	"github.com/sagabus/sagabus/persistence"
	"github.com/sagabus/sagabus/persistence/memorypersistence"
	. "github.com/sagabus/sagabus/saga"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type EventProcessor", func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		stream    *memorystream.Stream
		dataStore *memorypersistence.DataStore
		repo      *RepositoryStub
		def       *Definition
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 3*time.Second)

		stream = &memorystream.Stream{}

		dataStore = &memorypersistence.DataStore{
			Marshaler: Marshaler,
		}

		repo = &RepositoryStub{
			Repository: dataStore,
		}

		def = NewSagaDefinition("<saga>", CreateAlways)
	})

	AfterEach(func() {
		cancel()
	})

	// newProcessor returns a processor for one worker of a pool of the given
	// size.
	newProcessor := func(index, count int) *EventProcessor {
		return &EventProcessor{
			Stream:      stream,
			Definitions: []*Definition{def},
			Repository:  repo,
			UnitOfWorks: dataStore,
			ErrorHandler: RetryErrorHandler{
				Logger: logging.DiscardLogger{},
			},
			WorkerIndex:     index,
			WorkerCount:     count,
			ShutdownTimeout: 100 * time.Millisecond,
			Logger:          logging.DiscardLogger{},
		}
	}

	// run starts the processor and returns a channel that receives the result
	// of Run() when it returns.
	run := func(p *EventProcessor) <-chan error {
		result := make(chan error, 1)

		go func() {
			result <- p.Run(ctx)
		}()

		return result
	}

	// find returns the identifiers of the committed sagas holding the given
	// association value.
	find := func(v string) []string {
		ids, err := dataStore.Find(
			ctx,
			"<saga>",
			AssociationValue{Key: "value", Value: v},
		)
		Expect(err).ShouldNot(HaveOccurred())
		return ids
	}

	// load returns the committed state of the saga with the given identifier.
	load := func(id string) *SagaStub {
		s, err := dataStore.Load(ctx, "<saga>", id)
		Expect(err).ShouldNot(HaveOccurred())
		return s.(*SagaStub)
	}

	It("creates a saga instance and routes subsequent events to it", func() {
		stream.Append(
			NewParcel("<event-1>", MessageA{Value: "<value>"}),
			NewParcel("<event-2>", MessageB{Value: "<value>"}),
		)

		run(newProcessor(0, 1))

		var ids []string
		Eventually(func() []string {
			ids = find("<value>")
			return ids
		}).Should(HaveLen(1))

		Expect(ids[0]).To(Equal(CandidateID("<saga>", "<event-1>")))
		Expect(load(ids[0]).Handled).To(HaveLen(2))
	})

	It("persists the batch as a single unit", func() {
		saves := 0
		repo.AddFunc = func(
			ctx context.Context,
			w UnitOfWork,
			sagaType string,
			s Saga,
		) error {
			saves++
			return dataStore.Add(ctx, w, sagaType, s)
		}

		stream.Append(
			NewParcel("<event-1>", MessageA{Value: "<value>"}),
			NewParcel("<event-2>", MessageB{Value: "<value>"}),
			NewParcel("<event-3>", MessageB{Value: "<value>"}),
		)

		run(newProcessor(0, 1))

		Eventually(func() []string {
			return find("<value>")
		}).Should(HaveLen(1))

		// All three events were available before the worker started, so they
		// form a single batch with a single insertion.
		Expect(saves).To(Equal(1))
	})

	It("loads an instance only on the worker that owns it", func() {
		// Commit an instance directly, then deliver an event associated with
		// it to a worker that does not own it.
		s := NewSagaStub("<instance>")
		s.Associate(AssociationValue{Key: "value", Value: "<value>"})

		w, err := dataStore.New(ctx, nil)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(dataStore.Add(ctx, w, "<saga>", s)).To(Succeed())
		Expect(w.Commit(ctx)).To(Succeed())

		loads := 0
		repo.LoadFunc = func(
			ctx context.Context,
			sagaType, id string,
		) (Saga, error) {
			loads++
			return dataStore.Load(ctx, sagaType, id)
		}

		owner := Owner("<instance>", 3)
		other := (owner + 1) % 3

		stream.Append(
			NewParcel("<event-1>", MessageB{Value: "<value>"}),
		)

		run(newProcessor(other, 3))

		Consistently(func() int {
			return loads
		}).Should(BeZero())

		// The owning worker does load it.
		run(newProcessor(owner, 3))

		Eventually(func() int {
			return loads
		}).Should(Equal(1))
	})

	It("does not create an instance on a worker that does not own the candidate", func() {
		id := CandidateID("<saga>", "<event-1>")
		other := (Owner(id, 2) + 1) % 2

		stream.Append(
			NewParcel("<event-1>", MessageA{Value: "<value>"}),
		)

		run(newProcessor(other, 2))

		Consistently(func() []string {
			return find("<value>")
		}).Should(BeEmpty())
	})

	It("creates exactly one instance across a pool of workers", func() {
		def = NewSagaDefinition("<saga>", CreateIfNoneFound)

		procs := NewEventProcessors(3, *newProcessor(0, 1))
		for _, p := range procs {
			run(p)
		}

		stream.Append(
			NewParcel("<event-1>", MessageA{Value: "<value>"}),
		)

		Eventually(func() []string {
			return find("<value>")
		}).Should(HaveLen(1))

		Consistently(func() []string {
			return find("<value>")
		}).Should(HaveLen(1))
	})

	It("does not create a second instance for repeat creation events on one worker", func() {
		def = NewSagaDefinition("<saga>", CreateIfNoneFound)

		stream.Append(
			NewParcel("<event-1>", MessageA{Value: "<value>"}),
			NewParcel("<event-2>", MessageA{Value: "<value>"}),
		)

		run(newProcessor(0, 1))

		var ids []string
		Eventually(func() []string {
			ids = find("<value>")
			return ids
		}).Should(HaveLen(1))

		// Both events were dispatched to the single instance.
		Expect(load(ids[0]).Handled).To(HaveLen(2))
	})

	It("retries the batch commit after a transient failure", func() {
		failures := 1
		repo.AddFunc = func(
			ctx context.Context,
			w UnitOfWork,
			sagaType string,
			s Saga,
		) error {
			if failures > 0 {
				failures--
				return errors.New("<transient>")
			}

			return dataStore.Add(ctx, w, sagaType, s)
		}

		stream.Append(
			NewParcel("<event-1>", MessageA{Value: "<value>"}),
		)

		run(newProcessor(0, 1))

		var ids []string
		Eventually(func() []string {
			ids = find("<value>")
			return ids
		}).Should(HaveLen(1))

		// The working set was cleared after the successful retry, so further
		// events reload the instance from the repository.
		stream.Append(
			NewParcel("<event-2>", MessageB{Value: "<value>"}),
		)

		Eventually(func() []string {
			return load(ids[0]).Handled
		}).Should(HaveLen(2))
	})

	It("stops immediately when persistence fails with a non-transient error", func() {
		repo.AddFunc = func(
			context.Context,
			UnitOfWork,
			string,
			Saga,
		) error {
			return persistence.ConflictError{
				SagaType:   "<saga>",
				InstanceID: "<instance>",
			}
		}

		stream.Append(
			NewParcel("<event-1>", MessageA{Value: "<value>"}),
		)

		result := run(newProcessor(0, 1))

		var err error
		Eventually(result).Should(Receive(&err))

		var conflict persistence.ConflictError
		Expect(errors.As(err, &conflict)).To(BeTrue())
	})

	It("returns the context error when canceled", func() {
		result := run(newProcessor(0, 1))

		cancel()

		var err error
		Eventually(result).Should(Receive(&err))
		Expect(err).To(Equal(context.Canceled))
	})

	It("restarts preparation as directed by the error handler", func() {
		attempts := 0
		repo.FindFunc = func(
			ctx context.Context,
			sagaType string,
			v AssociationValue,
		) ([]string, error) {
			attempts++
			if attempts == 1 {
				return nil, errors.New("<find error>")
			}

			return dataStore.Find(ctx, sagaType, v)
		}

		stream.Append(
			NewParcel("<event-1>", MessageA{Value: "<value>"}),
		)

		p := newProcessor(0, 1)
		p.ErrorHandler = ErrorHandlerStub{
			OnPreparationErrorFunc: func(
				context.Context,
				string,
				parcel.Parcel,
				int,
				error,
			) RetryPolicy {
				return RetryPolicy{Rollback: true, Reschedule: true}
			},
		}

		run(p)

		Eventually(func() []string {
			return find("<value>")
		}).Should(HaveLen(1))

		Expect(attempts).To(BeNumerically(">=", 2))
	})

	It("retries a failed saga invocation", func() {
		failures := 1

		def = &Definition{
			Name: "<saga>",
			Factory: func(id string) Saga {
				s := NewSagaStub(id)
				s.HandleFunc = func(
					context.Context,
					*SagaStub,
					parcel.Parcel,
				) error {
					if failures > 0 {
						failures--
						return errors.New("<invocation error>")
					}

					return nil
				}
				return s
			},
			Rules: NewSagaDefinition("<saga>", CreateAlways).Rules,
		}

		stream.Append(
			NewParcel("<event-1>", MessageA{Value: "<value>"}),
		)

		p := newProcessor(0, 1)
		p.ErrorHandler = ErrorHandlerStub{
			OnInvocationErrorFunc: func(
				context.Context,
				Saga,
				parcel.Parcel,
				int,
				error,
			) RetryPolicy {
				return RetryPolicy{Rollback: true, Reschedule: true}
			},
		}

		run(p)

		var ids []string
		Eventually(func() []string {
			ids = find("<value>")
			return ids
		}).Should(HaveLen(1))

		// The event was dispatched twice to the same instance, once for the
		// failed attempt and once for the successful retry.
		Expect(load(ids[0]).Handled).To(HaveLen(2))
	})
})
