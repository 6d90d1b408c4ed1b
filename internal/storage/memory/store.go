package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

// Store — in-memory реализация CatalogStore для локальной разработки и тестов.
//
// Транзакция копит изменения у себя и применяет их к общему состоянию одним
// шагом при commit. Блокировки строк эмулируются таблицей per-product слотов:
// слот держится до конца транзакции, как FOR UPDATE в настоящей СУБД.
type Store struct {
	mu       sync.RWMutex
	versions map[int64][]domain.ProductVersion
	orders   map[int64]domain.Order
	pins     map[int64][]domain.OrderProductPin
	outbox   *outboxLog

	nextProductID int64
	nextOrderID   int64

	locks       *lockTable
	lockTimeout time.Duration
	now         func() time.Time
}

// Option настраивает Store.
type Option func(*Store)

// WithLockTimeout ограничивает ожидание блокировки товара. По истечении
// транзакция получает ErrConcurrencyConflict, как при lock wait timeout в СУБД.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithClock подменяет источник времени (используется в тестах).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore(opts ...Option) *Store {
	s := &Store{
		versions: make(map[int64][]domain.ProductVersion),
		orders:   make(map[int64]domain.Order),
		pins:     make(map[int64][]domain.OrderProductPin),
		outbox:   newOutboxLog(),
		locks:    newLockTable(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping всегда успешен: хранилище живёт в памяти процесса.
func (s *Store) Ping(context.Context) error {
	return nil
}

func (s *Store) LatestVersionNumber(_ context.Context, productID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.versions[productID]), nil
}

func (s *Store) GetVersion(_ context.Context, productID int64, version int) (domain.ProductVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return versionAt(s.versions[productID], version)
}

func (s *Store) GetLatest(_ context.Context, productID int64) (domain.ProductVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return latestOf(s.versions[productID])
}

func (s *Store) ListLatest(context.Context) ([]domain.ProductVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ProductVersion, 0, len(s.versions))
	for _, history := range s.versions {
		if v, err := latestOf(history); err == nil {
			result = append(result, v)
		}
	}
	slices.SortFunc(result, func(a, b domain.ProductVersion) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return result, nil
}

func (s *Store) GetOrder(_ context.Context, orderID int64) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

func (s *Store) ListOrdersBetween(_ context.Context, start, end time.Time) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range s.orders {
		if order.OrderTime.Before(start) || order.OrderTime.After(end) {
			continue
		}
		result = append(result, order)
	}
	slices.SortFunc(result, func(a, b domain.Order) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) ListPins(_ context.Context, orderID int64) ([]domain.OrderProductPin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.pins[orderID]), nil
}

// WithinTx выполняет fn в транзакции. Изменения становятся видны другим
// читателям только после успешного завершения fn; блокировки товаров
// освобождаются после commit или rollback.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.CatalogTx) error) (err error) {
	t := &tx{
		store:    s,
		held:     make(map[int64]struct{}),
		versions: make(map[int64][]domain.ProductVersion),
	}
	defer t.releaseLocks()

	if err = fn(ctx, t); err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	t.commit()
	return nil
}

func (s *Store) allocateProductID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextProductID++
	return s.nextProductID
}

func (s *Store) allocateOrderID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOrderID++
	return s.nextOrderID
}

// tx копит изменения до commit.
type tx struct {
	store    *Store
	held     map[int64]struct{}
	versions map[int64][]domain.ProductVersion
	orders   []domain.Order
	pins     []domain.OrderProductPin
	outbox   []domain.OutboxMessage
}

// history возвращает историю версий с учётом изменений текущей транзакции.
func (t *tx) history(productID int64) []domain.ProductVersion {
	if staged, ok := t.versions[productID]; ok {
		return staged
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.versions[productID]
}

func (t *tx) LatestVersionNumber(_ context.Context, productID int64) (int, error) {
	return len(t.history(productID)), nil
}

func (t *tx) GetVersion(_ context.Context, productID int64, version int) (domain.ProductVersion, error) {
	return versionAt(t.history(productID), version)
}

func (t *tx) GetLatest(_ context.Context, productID int64) (domain.ProductVersion, error) {
	return latestOf(t.history(productID))
}

func (t *tx) ListLatest(ctx context.Context) ([]domain.ProductVersion, error) {
	committed, err := t.store.ListLatest(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]domain.ProductVersion, len(committed)+len(t.versions))
	for _, v := range committed {
		byID[v.ProductID] = v
	}
	for id, history := range t.versions {
		if v, err := latestOf(history); err == nil {
			byID[id] = v
		}
	}

	result := make([]domain.ProductVersion, 0, len(byID))
	for _, v := range byID {
		result = append(result, v)
	}
	slices.SortFunc(result, func(a, b domain.ProductVersion) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return result, nil
}

func (t *tx) NextProductID(context.Context) (int64, error) {
	return t.store.allocateProductID(), nil
}

func (t *tx) LockLatestForUpdate(ctx context.Context, productID int64) error {
	if err := t.lock(ctx, productID); err != nil {
		return err
	}
	if len(t.history(productID)) == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (t *tx) AppendVersion(ctx context.Context, productID int64, draft domain.ProductDraft) (domain.ProductVersion, error) {
	if err := t.lock(ctx, productID); err != nil {
		return domain.ProductVersion{}, err
	}

	history := slices.Clone(t.history(productID))
	if n := len(history); n > 0 {
		history[n-1].IsLatest = false
	}

	created := domain.ProductVersion{
		ProductID: productID,
		Version:   len(history) + 1,
		Name:      draft.Name,
		Price:     draft.Price,
		IsLatest:  true,
		CreatedAt: t.store.now(),
	}
	t.versions[productID] = append(history, created)
	return created, nil
}

func (t *tx) InsertOrder(_ context.Context, order domain.Order) (domain.Order, error) {
	order.ID = t.store.allocateOrderID()
	t.orders = append(t.orders, order)
	return order, nil
}

func (t *tx) InsertPin(_ context.Context, pin domain.OrderProductPin) error {
	for _, existing := range t.pins {
		if existing.OrderID == pin.OrderID && existing.ProductID == pin.ProductID {
			return domain.StorageFault("insert pin", fmt.Errorf("duplicate pin for order %d product %d", pin.OrderID, pin.ProductID))
		}
	}
	t.pins = append(t.pins, pin)
	return nil
}

func (t *tx) EnqueueOutbox(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = t.store.now()
	}
	t.outbox = append(t.outbox, msg)
	return msg, nil
}

// lock берёт слот товара, если транзакция ещё не держит его.
func (t *tx) lock(ctx context.Context, productID int64) error {
	if _, ok := t.held[productID]; ok {
		return nil
	}

	waitCtx := ctx
	if t.store.lockTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, t.store.lockTimeout)
		defer cancel()
	}

	if err := t.store.locks.acquire(waitCtx, productID); err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return domain.ConcurrencyConflict(fmt.Sprintf("lock product %d", productID), err)
		}
		return fmt.Errorf("lock product %d: %w", productID, err)
	}
	t.held[productID] = struct{}{}
	return nil
}

func (t *tx) releaseLocks() {
	for id := range t.held {
		t.store.locks.release(id)
	}
	clear(t.held)
}

func (t *tx) commit() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, history := range t.versions {
		s.versions[id] = history
	}
	for _, order := range t.orders {
		s.orders[order.ID] = order
	}
	touched := make(map[int64]struct{})
	for _, pin := range t.pins {
		s.pins[pin.OrderID] = append(s.pins[pin.OrderID], pin)
		touched[pin.OrderID] = struct{}{}
	}
	for id := range touched {
		slices.SortFunc(s.pins[id], func(a, b domain.OrderProductPin) int {
			return cmp.Compare(a.ProductID, b.ProductID)
		})
	}
	for _, msg := range t.outbox {
		s.outbox.append(msg)
	}
}

func versionAt(history []domain.ProductVersion, version int) (domain.ProductVersion, error) {
	if version < 1 || version > len(history) {
		return domain.ProductVersion{}, domain.ErrProductVersionNotFound
	}
	return history[version-1], nil
}

func latestOf(history []domain.ProductVersion) (domain.ProductVersion, error) {
	if len(history) == 0 {
		return domain.ProductVersion{}, domain.ErrProductNotFound
	}
	return history[len(history)-1], nil
}

var (
	_ domain.CatalogStore = (*Store)(nil)
	_ domain.CatalogTx    = (*tx)(nil)
)
