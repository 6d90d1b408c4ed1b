// Package storetest содержит общий контрактный набор тестов для реализаций domain.CatalogStore.
package storetest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

// CatalogStoreSuite проверяет поведение хранилища, общее для всех драйверов.
// NewStore вызывается перед каждым тестом и должен возвращать пустое хранилище.
type CatalogStoreSuite struct {
	suite.Suite

	NewStore func() domain.CatalogStore

	store domain.CatalogStore
	ctx   context.Context
}

func (s *CatalogStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.NewStore()
}

func (s *CatalogStoreSuite) createProduct(name, price string) domain.ProductVersion {
	var created domain.ProductVersion
	err := s.store.WithinTx(s.ctx, func(ctx context.Context, tx domain.CatalogTx) error {
		id, err := tx.NextProductID(ctx)
		if err != nil {
			return err
		}
		created, err = tx.AppendVersion(ctx, id, domain.ProductDraft{Name: name, Price: decimal.RequireFromString(price)})
		return err
	})
	s.Require().NoError(err)
	return created
}

func (s *CatalogStoreSuite) appendVersion(productID int64, name, price string) domain.ProductVersion {
	var created domain.ProductVersion
	err := s.store.WithinTx(s.ctx, func(ctx context.Context, tx domain.CatalogTx) error {
		var err error
		created, err = tx.AppendVersion(ctx, productID, domain.ProductDraft{Name: name, Price: decimal.RequireFromString(price)})
		return err
	})
	s.Require().NoError(err)
	return created
}

func (s *CatalogStoreSuite) TestCreateAndAppend() {
	first := s.createProduct("Tea", "1.5")
	s.Require().Equal(1, first.Version)
	s.Require().True(first.IsLatest)

	second := s.appendVersion(first.ProductID, "Green tea", "2.25")
	s.Require().Equal(2, second.Version)

	n, err := s.store.LatestVersionNumber(s.ctx, first.ProductID)
	s.Require().NoError(err)
	s.Require().Equal(2, n)

	old, err := s.store.GetVersion(s.ctx, first.ProductID, 1)
	s.Require().NoError(err)
	s.Require().False(old.IsLatest)
	s.Require().Equal("Tea", old.Name)
	s.Require().True(old.Price.Equal(decimal.RequireFromString("1.5")))

	latest, err := s.store.GetLatest(s.ctx, first.ProductID)
	s.Require().NoError(err)
	s.Require().Equal(2, latest.Version)
	s.Require().Equal("Green tea", latest.Name)
	s.Require().True(latest.Price.Equal(decimal.RequireFromString("2.25")))
}

func (s *CatalogStoreSuite) TestMissingProduct() {
	n, err := s.store.LatestVersionNumber(s.ctx, 987654)
	s.Require().NoError(err)
	s.Require().Zero(n)

	_, err = s.store.GetLatest(s.ctx, 987654)
	s.Require().ErrorIs(err, domain.ErrProductNotFound)

	_, err = s.store.GetVersion(s.ctx, 987654, 1)
	s.Require().ErrorIs(err, domain.ErrProductVersionNotFound)

	err = s.store.WithinTx(s.ctx, func(ctx context.Context, tx domain.CatalogTx) error {
		return tx.LockLatestForUpdate(ctx, 987654)
	})
	s.Require().ErrorIs(err, domain.ErrProductNotFound)
}

func (s *CatalogStoreSuite) TestListLatestSortedByID() {
	a := s.createProduct("A", "1")
	b := s.createProduct("B", "2")
	s.appendVersion(a.ProductID, "A2", "3")

	latest, err := s.store.ListLatest(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(latest, 2)
	s.Require().Equal(a.ProductID, latest[0].ProductID)
	s.Require().Equal(2, latest[0].Version)
	s.Require().Equal(b.ProductID, latest[1].ProductID)
	for _, v := range latest {
		s.Require().True(v.IsLatest)
	}
}

func (s *CatalogStoreSuite) TestOrderWithPins() {
	a := s.createProduct("A", "1.5")
	b := s.createProduct("B", "2.5")
	orderTime := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

	var orderID int64
	err := s.store.WithinTx(s.ctx, func(ctx context.Context, tx domain.CatalogTx) error {
		order, err := tx.InsertOrder(ctx, domain.Order{BuyerEmailID: "buyer@example.com", OrderTime: orderTime})
		if err != nil {
			return err
		}
		orderID = order.ID
		for _, id := range []int64{b.ProductID, a.ProductID} {
			if err := tx.LockLatestForUpdate(ctx, id); err != nil {
				return err
			}
			n, err := tx.LatestVersionNumber(ctx, id)
			if err != nil {
				return err
			}
			if err := tx.InsertPin(ctx, domain.OrderProductPin{OrderID: order.ID, ProductID: id, Version: n}); err != nil {
				return err
			}
		}
		return nil
	})
	s.Require().NoError(err)
	s.Require().Positive(orderID)

	order, err := s.store.GetOrder(s.ctx, orderID)
	s.Require().NoError(err)
	s.Require().Equal("buyer@example.com", order.BuyerEmailID)
	s.Require().True(order.OrderTime.Equal(orderTime))

	pins, err := s.store.ListPins(s.ctx, orderID)
	s.Require().NoError(err)
	s.Require().Equal([]domain.OrderProductPin{
		{OrderID: orderID, ProductID: a.ProductID, Version: 1},
		{OrderID: orderID, ProductID: b.ProductID, Version: 1},
	}, pins)

	_, err = s.store.GetOrder(s.ctx, orderID+1000)
	s.Require().ErrorIs(err, domain.ErrOrderNotFound)
}

func (s *CatalogStoreSuite) TestRollbackLeavesNoTrace() {
	product := s.createProduct("A", "1")
	boom := errors.New("boom")

	err := s.store.WithinTx(s.ctx, func(ctx context.Context, tx domain.CatalogTx) error {
		if _, err := tx.AppendVersion(ctx, product.ProductID, domain.ProductDraft{Name: "A", Price: decimal.NewFromInt(9)}); err != nil {
			return err
		}
		if _, err := tx.InsertOrder(ctx, domain.Order{BuyerEmailID: "x@y.z", OrderTime: time.Now().UTC()}); err != nil {
			return err
		}
		return boom
	})
	s.Require().ErrorIs(err, boom)

	n, err := s.store.LatestVersionNumber(s.ctx, product.ProductID)
	s.Require().NoError(err)
	s.Require().Equal(1, n)

	orders, err := s.store.ListOrdersBetween(s.ctx, time.Unix(0, 0).UTC(), time.Now().UTC().Add(time.Hour))
	s.Require().NoError(err)
	s.Require().Empty(orders)
}

func (s *CatalogStoreSuite) TestListOrdersBetweenInclusive() {
	base := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	times := []time.Time{base.Add(2 * time.Hour), base, base.Add(-time.Second), base.Add(time.Hour)}

	ids := make([]int64, 0, len(times))
	for _, ts := range times {
		err := s.store.WithinTx(s.ctx, func(ctx context.Context, tx domain.CatalogTx) error {
			order, err := tx.InsertOrder(ctx, domain.Order{BuyerEmailID: "buyer@example.com", OrderTime: ts})
			ids = append(ids, order.ID)
			return err
		})
		s.Require().NoError(err)
	}

	orders, err := s.store.ListOrdersBetween(s.ctx, base, base.Add(2*time.Hour))
	s.Require().NoError(err)
	s.Require().Len(orders, 3)
	s.Require().Equal(ids[0], orders[0].ID)
	s.Require().Equal(ids[1], orders[1].ID)
	s.Require().Equal(ids[3], orders[2].ID)
}

// TestConcurrentAppendsStayContiguous гоняет параллельные обновления одного товара:
// версии должны остаться непрерывными, а последняя — единственной.
func (s *CatalogStoreSuite) TestConcurrentAppendsStayContiguous() {
	product := s.createProduct("Hot", "1")

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for attempt := 0; attempt < 20; attempt++ {
				err := s.store.WithinTx(s.ctx, func(ctx context.Context, tx domain.CatalogTx) error {
					if err := tx.LockLatestForUpdate(ctx, product.ProductID); err != nil {
						return err
					}
					_, err := tx.AppendVersion(ctx, product.ProductID, domain.ProductDraft{Name: "Hot", Price: decimal.NewFromInt(int64(i))})
					return err
				})
				if domain.IsConcurrencyConflict(err) {
					continue
				}
				errs <- err
				return
			}
			errs <- errors.New("append kept conflicting")
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	n, err := s.store.LatestVersionNumber(s.ctx, product.ProductID)
	s.Require().NoError(err)
	s.Require().Equal(writers+1, n)

	latest := 0
	for v := 1; v <= n; v++ {
		pv, err := s.store.GetVersion(s.ctx, product.ProductID, v)
		s.Require().NoError(err)
		if pv.IsLatest {
			latest++
		}
	}
	s.Require().Equal(1, latest)
}

// TestLockSerializesPinAgainstAppend проверяет, что закрепление, взявшее блокировку,
// видит версию, которую закоммитил предыдущий держатель блокировки.
func (s *CatalogStoreSuite) TestLockSerializesPinAgainstAppend() {
	product := s.createProduct("P", "1")

	locked := make(chan struct{})
	release := make(chan struct{})
	updaterDone := make(chan error, 1)
	go func() {
		updaterDone <- s.store.WithinTx(s.ctx, func(ctx context.Context, tx domain.CatalogTx) error {
			if err := tx.LockLatestForUpdate(ctx, product.ProductID); err != nil {
				return err
			}
			close(locked)
			<-release
			_, err := tx.AppendVersion(ctx, product.ProductID, domain.ProductDraft{Name: "P", Price: decimal.NewFromInt(2)})
			return err
		})
	}()
	<-locked

	pinned := make(chan int, 1)
	pinnerDone := make(chan error, 1)
	go func() {
		pinnerDone <- s.store.WithinTx(s.ctx, func(ctx context.Context, tx domain.CatalogTx) error {
			if err := tx.LockLatestForUpdate(ctx, product.ProductID); err != nil {
				return err
			}
			n, err := tx.LatestVersionNumber(ctx, product.ProductID)
			pinned <- n
			return err
		})
	}()

	select {
	case <-pinned:
		s.FailNow("pinning must wait for the updater's lock")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	s.Require().NoError(<-updaterDone)
	s.Require().NoError(<-pinnerDone)
	s.Require().Equal(2, <-pinned)
}
