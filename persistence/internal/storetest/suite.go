// Package storetest declares generic behavioral tests that every saga data
// store implementation must pass.
package storetest

import (
	"context"
	"errors"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"github.com/sagabus/sagabus/fixtures"
	"github.com/sagabus/sagabus/persistence"
	"github.com/sagabus/sagabus/saga"
)

// Store is the pair of interfaces a data store must provide.
type Store interface {
	saga.Repository
	saga.UnitOfWorkFactory
}

// Declare declares generic behavioral tests for a specific data store
// implementation.
func Declare(
	setup func(ctx context.Context) (Store, func()),
) {
	var (
		ctx      context.Context
		cancel   context.CancelFunc
		store    Store
		teardown func()
	)

	ginkgo.BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 3*time.Second)
		store, teardown = setup(ctx)
	})

	ginkgo.AfterEach(func() {
		if teardown != nil {
			teardown()
		}

		cancel()
	})

	// add commits a new saga instance to the store.
	add := func(s saga.Saga) {
		w, err := store.New(ctx, nil)
		gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

		err = store.Add(ctx, w, "<saga>", s)
		gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

		err = w.Commit(ctx)
		gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
	}

	// save commits an update of an existing saga instance.
	save := func(s saga.Saga) error {
		w, err := store.New(ctx, nil)
		gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

		err = store.Save(ctx, w, "<saga>", s)
		gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

		return w.Commit(ctx)
	}

	ginkgo.Describe("func Find()", func() {
		ginkgo.It("returns the instances that hold the association value", func() {
			s := fixtures.NewSagaStub("<instance>")
			s.Associate(saga.AssociationValue{Key: "<key>", Value: "<value>"})
			add(s)

			ids, err := store.Find(
				ctx,
				"<saga>",
				saga.AssociationValue{Key: "<key>", Value: "<value>"},
			)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(ids).To(gomega.ConsistOf("<instance>"))
		})

		ginkgo.It("does not return instances with a different association value", func() {
			s := fixtures.NewSagaStub("<instance>")
			s.Associate(saga.AssociationValue{Key: "<key>", Value: "<value>"})
			add(s)

			ids, err := store.Find(
				ctx,
				"<saga>",
				saga.AssociationValue{Key: "<key>", Value: "<other>"},
			)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(ids).To(gomega.BeEmpty())
		})

		ginkgo.It("does not return instances staged in an uncommitted unit of work", func() {
			s := fixtures.NewSagaStub("<instance>")
			s.Associate(saga.AssociationValue{Key: "<key>", Value: "<value>"})

			w, err := store.New(ctx, nil)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			err = store.Add(ctx, w, "<saga>", s)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			ids, err := store.Find(
				ctx,
				"<saga>",
				saga.AssociationValue{Key: "<key>", Value: "<value>"},
			)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(ids).To(gomega.BeEmpty())
		})

		ginkgo.It("does not return instances that have ended", func() {
			s := fixtures.NewSagaStub("<instance>")
			s.Associate(saga.AssociationValue{Key: "<key>", Value: "<value>"})
			add(s)

			s.End()
			gomega.Expect(save(s)).To(gomega.Succeed())

			ids, err := store.Find(
				ctx,
				"<saga>",
				saga.AssociationValue{Key: "<key>", Value: "<value>"},
			)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(ids).To(gomega.BeEmpty())
		})

		ginkgo.It("does not return instances whose association has been removed", func() {
			v := saga.AssociationValue{Key: "<key>", Value: "<value>"}

			s := fixtures.NewSagaStub("<instance>")
			s.Associate(v)
			add(s)

			s.Dissociate(v)
			gomega.Expect(save(s)).To(gomega.Succeed())

			ids, err := store.Find(ctx, "<saga>", v)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(ids).To(gomega.BeEmpty())
		})
	})

	ginkgo.Describe("func Load()", func() {
		ginkgo.It("returns the committed state of the instance", func() {
			s := fixtures.NewSagaStub("<instance>")
			s.Associate(saga.AssociationValue{Key: "<key>", Value: "<value>"})
			s.Handled = []string{"<one>", "<two>"}
			add(s)

			loaded, err := store.Load(ctx, "<saga>", "<instance>")
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			stub := loaded.(*fixtures.SagaStub)
			gomega.Expect(stub.ID()).To(gomega.Equal("<instance>"))
			gomega.Expect(stub.Handled).To(gomega.Equal([]string{"<one>", "<two>"}))
			gomega.Expect(stub.AssociationValues()).To(gomega.ConsistOf(
				saga.AssociationValue{Key: "<key>", Value: "<value>"},
			))
		})

		ginkgo.It("returns an UnknownSagaError for unknown instances", func() {
			_, err := store.Load(ctx, "<saga>", "<unknown>")

			var unknown persistence.UnknownSagaError
			gomega.Expect(errors.As(err, &unknown)).To(gomega.BeTrue())
			gomega.Expect(unknown.InstanceID).To(gomega.Equal("<unknown>"))
		})

		ginkgo.It("can load an instance that has ended", func() {
			s := fixtures.NewSagaStub("<instance>")
			add(s)

			s.End()
			gomega.Expect(save(s)).To(gomega.Succeed())

			loaded, err := store.Load(ctx, "<saga>", "<instance>")
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(loaded.Active()).To(gomega.BeFalse())
		})
	})

	ginkgo.Describe("func Commit()", func() {
		ginkgo.It("fails with a conflict if the instance already exists", func() {
			s := fixtures.NewSagaStub("<instance>")
			add(s)

			w, err := store.New(ctx, nil)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			err = store.Add(ctx, w, "<saga>", fixtures.NewSagaStub("<instance>"))
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			err = w.Commit(ctx)

			var conflict persistence.ConflictError
			gomega.Expect(errors.As(err, &conflict)).To(gomega.BeTrue())
			gomega.Expect(saga.IsNonTransient(err)).To(gomega.BeTrue())
		})

		ginkgo.It("fails with a conflict if the update is based on a stale revision", func() {
			s := fixtures.NewSagaStub("<instance>")
			add(s)

			// Stage an update, then commit a competing update before it.
			stale, err := store.New(ctx, nil)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			err = store.Save(ctx, stale, "<saga>", s)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			gomega.Expect(save(s)).To(gomega.Succeed())

			err = stale.Commit(ctx)

			var conflict persistence.ConflictError
			gomega.Expect(errors.As(err, &conflict)).To(gomega.BeTrue())
		})

		ginkgo.It("fails with a conflict when updating an unknown instance", func() {
			err := save(fixtures.NewSagaStub("<unknown>"))

			var conflict persistence.ConflictError
			gomega.Expect(errors.As(err, &conflict)).To(gomega.BeTrue())
		})

		ginkgo.It("renders the unit of work inactive", func() {
			w, err := store.New(ctx, nil)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(w.IsActive()).To(gomega.BeTrue())

			gomega.Expect(w.Commit(ctx)).To(gomega.Succeed())
			gomega.Expect(w.IsActive()).To(gomega.BeFalse())
		})
	})

	ginkgo.Describe("func Rollback()", func() {
		ginkgo.It("discards the staged operations", func() {
			s := fixtures.NewSagaStub("<instance>")
			s.Associate(saga.AssociationValue{Key: "<key>", Value: "<value>"})

			w, err := store.New(ctx, nil)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			err = store.Add(ctx, w, "<saga>", s)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			err = w.Rollback(ctx, errors.New("<cause>"))
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(w.IsActive()).To(gomega.BeFalse())

			_, err = store.Load(ctx, "<saga>", "<instance>")
			gomega.Expect(err).Should(gomega.HaveOccurred())
		})
	})
}
