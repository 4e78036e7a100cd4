package boltpersistence_test

import (
	"context"
	"testing"

	"github.com/sagabus/sagabus/fixtures"
	"github.com/sagabus/sagabus/internal/testing/boltdbtest"
	"github.com/sagabus/sagabus/persistence/internal/storetest"
	. "github.com/sagabus/sagabus/persistence/boltpersistence"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestBoltPersistence(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "boltpersistence package")
}

var _ = Describe("type DataStore", func() {
	storetest.Declare(
		func(ctx context.Context) (storetest.Store, func()) {
			path, remove := boltdbtest.TempFile()

			store, err := Open(ctx, path, 0, fixtures.Marshaler)
			Expect(err).ShouldNot(HaveOccurred())

			return store, func() {
				store.Close()
				remove()
			}
		},
	)
})
