// Package marketplace реализует состояние маркетплейса: каталог товаров,
// реестр пользователей и леджер балансов.
//
// Все изменения состояния сериализуются одним мьютексом на экземпляр.
// Зафиксированное состояние неизменяемо и публикуется атомарно, поэтому
// чтение не блокирует запись и не видит частично применённых операций.
package marketplace

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace/internal/model"
)

// Store описывает долговременное хранилище, в которое записывается каждая операция
// до её фиксации в памяти. Ошибка хранилища отменяет операцию.
// Повторная вставка уже сохранённого товара или профиля с теми же данными
// должна завершаться успешно: запись могла быть зафиксирована, а ответ потерян.
type Store interface {
	InsertProduct(ctx context.Context, index int, p model.Product) error
	InsertUser(ctx context.Context, id model.Identity, u model.UserProfile) error
	ApplyTransfer(ctx context.Context, t model.Transfer, fromBalance, toBalance uint64) error
}

type state struct {
	catalog  *Catalog
	registry *Registry
	ledger   *Ledger
}

// Stats содержит агрегированные показатели состояния.
type Stats struct {
	Products    int
	Users       int
	Accounts    int
	TotalSupply uint64
}

// Marketplace является корнем композиции: владеет каталогом, реестром и леджером
// и направляет каждую операцию ровно одному из них.
type Marketplace struct {
	mu        sync.Mutex
	current   atomic.Pointer[state]
	store     Store
	allowSelf bool
	logger    *zap.Logger
}

type options struct {
	genesis   map[model.Identity]uint64
	snapshot  *model.Snapshot
	store     Store
	allowSelf bool
	logger    *zap.Logger
}

// Option настраивает Marketplace при создании.
type Option func(*options)

// WithGenesis задаёт начальные балансы счетов. Игнорируется при WithSnapshot.
func WithGenesis(balances map[model.Identity]uint64) Option {
	return func(o *options) { o.genesis = balances }
}

// WithSnapshot восстанавливает состояние из сохранённого снимка.
func WithSnapshot(s model.Snapshot) Option {
	return func(o *options) { o.snapshot = &s }
}

// WithStore включает запись операций в хранилище.
func WithStore(s Store) Option {
	return func(o *options) { o.store = s }
}

// WithSelfTransfer разрешает перевод самому себе как операцию без эффекта.
func WithSelfTransfer(allow bool) Option {
	return func(o *options) { o.allowSelf = allow }
}

// WithLogger задаёт логгер.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New создаёт готовый к работе Marketplace.
func New(opts ...Option) (*Marketplace, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	snap := model.Snapshot{Balances: o.genesis}
	if o.snapshot != nil {
		snap = *o.snapshot
	}

	catalog, err := NewCatalog(snap.Products)
	if err != nil {
		return nil, fmt.Errorf("restore catalog: %w", err)
	}
	registry, err := NewRegistry(snap.Users)
	if err != nil {
		return nil, fmt.Errorf("restore registry: %w", err)
	}
	ledger, err := NewLedger(snap.Balances)
	if err != nil {
		return nil, fmt.Errorf("restore ledger: %w", err)
	}

	m := &Marketplace{
		store:     o.store,
		allowSelf: o.allowSelf,
		logger:    o.logger,
	}
	m.current.Store(&state{catalog: catalog, registry: registry, ledger: ledger})
	return m, nil
}

func (m *Marketplace) load() *state {
	return m.current.Load()
}

// CreateProduct добавляет товар в каталог и возвращает его индекс.
func (m *Marketplace) CreateProduct(ctx context.Context, name string, price uint64, status model.ProductStatus) (int, error) {
	p := model.Product{Name: name, Price: price, Status: status}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.load()
	catalog, index, err := cur.catalog.Create(p)
	if err != nil {
		return 0, err
	}

	if m.store != nil {
		if err := m.store.InsertProduct(ctx, index, p); err != nil {
			m.logger.Warn("persist product failed", zap.Error(err), zap.Int("index", index))
			return 0, fmt.Errorf("persist product: %w", err)
		}
	}

	m.current.Store(&state{catalog: catalog, registry: cur.registry, ledger: cur.ledger})
	m.logger.Debug("product created", zap.Int("index", index), zap.String("name", name))
	return index, nil
}

// ListProducts возвращает копию каталога в порядке добавления.
func (m *Marketplace) ListProducts() []model.Product {
	return m.load().catalog.List()
}

// RegisterUser регистрирует профиль для идентификатора. Повторная регистрация
// завершается ошибкой ErrAlreadyRegistered.
func (m *Marketplace) RegisterUser(ctx context.Context, id model.Identity, name, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.load()
	registry, err := cur.registry.Register(id, name, email)
	if err != nil {
		return err
	}

	if m.store != nil {
		if err := m.store.InsertUser(ctx, id, registry.Get(id)); err != nil {
			m.logger.Warn("persist user failed", zap.Error(err), zap.Stringer("identity", id))
			return fmt.Errorf("persist user: %w", err)
		}
	}

	m.current.Store(&state{catalog: cur.catalog, registry: registry, ledger: cur.ledger})
	m.logger.Debug("user registered", zap.Stringer("identity", id))
	return nil
}

// GetUserInfo возвращает профиль пользователя или пустой профиль для
// незарегистрированного идентификатора.
func (m *Marketplace) GetUserInfo(id model.Identity) model.UserProfile {
	return m.load().registry.Get(id)
}

// BalanceOf возвращает баланс счёта.
func (m *Marketplace) BalanceOf(id model.Identity) uint64 {
	return m.load().ledger.BalanceOf(id)
}

// TransferEther переводит amount со счёта from на счёт to. Перевод затрагивает
// только леджер и не связан с товарами каталога.
func (m *Marketplace) TransferEther(ctx context.Context, from, to model.Identity, amount uint64) error {
	t := model.Transfer{From: from, To: to, Amount: amount}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.load()
	ledger, err := cur.ledger.Transfer(t, m.allowSelf)
	if err != nil {
		return err
	}
	if ledger == cur.ledger {
		return nil
	}

	if m.store != nil {
		if err := m.store.ApplyTransfer(ctx, t, ledger.BalanceOf(from), ledger.BalanceOf(to)); err != nil {
			m.logger.Warn("persist transfer failed", zap.Error(err),
				zap.Stringer("from", from), zap.Stringer("to", to), zap.Uint64("amount", amount))
			return fmt.Errorf("persist transfer: %w", err)
		}
	}

	m.current.Store(&state{catalog: cur.catalog, registry: cur.registry, ledger: ledger})
	m.logger.Debug("transfer committed",
		zap.Stringer("from", from), zap.Stringer("to", to), zap.Uint64("amount", amount))
	return nil
}

// TotalSupply возвращает сумму всех балансов.
func (m *Marketplace) TotalSupply() uint64 {
	return m.load().ledger.TotalSupply()
}

// Stats возвращает показатели текущего состояния.
func (m *Marketplace) Stats() Stats {
	s := m.load()
	return Stats{
		Products:    s.catalog.Len(),
		Users:       s.registry.Len(),
		Accounts:    s.ledger.Len(),
		TotalSupply: s.ledger.TotalSupply(),
	}
}

// Snapshot возвращает согласованную копию всего состояния.
func (m *Marketplace) Snapshot() model.Snapshot {
	s := m.load()
	return model.Snapshot{
		Products: s.catalog.List(),
		Users:    s.registry.Users(),
		Balances: s.ledger.Balances(),
	}
}
