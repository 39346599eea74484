package marketplace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/marketplace/internal/model"
)

type stubStore struct {
	mu sync.Mutex

	productErr  error
	userErr     error
	transferErr error

	products  []model.Product
	users     map[model.Identity]model.UserProfile
	transfers []model.Transfer
	balances  map[model.Identity]uint64
}

func (s *stubStore) InsertProduct(ctx context.Context, index int, p model.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.productErr != nil {
		return s.productErr
	}
	if index != len(s.products) {
		return fmt.Errorf("unexpected index %d", index)
	}
	s.products = append(s.products, p)
	return nil
}

func (s *stubStore) InsertUser(ctx context.Context, id model.Identity, u model.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userErr != nil {
		return s.userErr
	}
	if s.users == nil {
		s.users = make(map[model.Identity]model.UserProfile)
	}
	s.users[id] = u
	return nil
}

func (s *stubStore) ApplyTransfer(ctx context.Context, t model.Transfer, fromBalance, toBalance uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transferErr != nil {
		return s.transferErr
	}
	if s.balances == nil {
		s.balances = make(map[model.Identity]uint64)
	}
	s.transfers = append(s.transfers, t)
	s.balances[t.From] = fromBalance
	s.balances[t.To] = toBalance
	return nil
}

// ackLossStore фиксирует первую вставку, но возвращает ошибку соединения,
// как при потере ответа на COMMIT. Повторная вставка тех же данных успешна.
type ackLossStore struct {
	stubStore
	lost bool
}

var errConnReset = errors.New("read: connection reset by peer")

func (s *ackLossStore) InsertProduct(ctx context.Context, index int, p model.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < len(s.products) {
		if s.products[index] != p {
			return fmt.Errorf("product index already taken: %d", index)
		}
		return nil
	}
	s.products = append(s.products, p)
	if !s.lost {
		s.lost = true
		return errConnReset
	}
	return nil
}

func (s *ackLossStore) InsertUser(ctx context.Context, id model.Identity, u model.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[model.Identity]model.UserProfile)
	}
	if stored, ok := s.users[id]; ok {
		if stored != u {
			return fmt.Errorf("user already exists: %s", id)
		}
		return nil
	}
	s.users[id] = u
	if !s.lost {
		s.lost = true
		return errConnReset
	}
	return nil
}

func newTestMarketplace(t *testing.T, opts ...Option) *Marketplace {
	t.Helper()

	m, err := New(opts...)
	require.NoError(t, err)
	return m
}

func TestCreateProduct_ThenList(t *testing.T) {
	m := newTestMarketplace(t)
	ctx := context.Background()

	assert.Empty(t, m.ListProducts())

	idx, err := m.CreateProduct(ctx, "T-short", 2000, model.ProductStatusAvailable)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	idx, err = m.CreateProduct(ctx, "Hoodie", 0, model.ProductStatusReserved)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	products := m.ListProducts()
	require.Len(t, products, 2)
	assert.Equal(t, model.Product{Name: "T-short", Price: 2000, Status: model.ProductStatusAvailable}, products[0])
	assert.Equal(t, model.Product{Name: "Hoodie", Price: 0, Status: model.ProductStatusReserved}, products[1])
}

func TestCreateProduct_InvalidStatus(t *testing.T) {
	m := newTestMarketplace(t)

	_, err := m.CreateProduct(context.Background(), "x", 1, model.ProductStatus(42))
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, m.ListProducts())
}

func TestRegisterUser_ThenGetUserInfo(t *testing.T) {
	m := newTestMarketplace(t)

	require.NoError(t, m.RegisterUser(context.Background(), alice, "Ruslan", "ruslan@mts.ru"))

	assert.Equal(t, model.UserProfile{
		Name:         "Ruslan",
		Email:        "ruslan@mts.ru",
		IsRegistered: true,
	}, m.GetUserInfo(alice))
}

func TestGetUserInfo_Unregistered(t *testing.T) {
	m := newTestMarketplace(t)

	info := m.GetUserInfo(bob)
	assert.False(t, info.IsRegistered)
	assert.Equal(t, "", info.Name)
	assert.Equal(t, "", info.Email)
}

func TestRegisterUser_Twice(t *testing.T) {
	m := newTestMarketplace(t)
	ctx := context.Background()

	require.NoError(t, m.RegisterUser(ctx, alice, "Ruslan", "ruslan@mts.ru"))

	err := m.RegisterUser(ctx, alice, "Ivan", "ivan@mts.ru")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
	assert.Equal(t, "Ruslan", m.GetUserInfo(alice).Name)
	assert.Equal(t, "ruslan@mts.ru", m.GetUserInfo(alice).Email)
}

func TestTransferEther(t *testing.T) {
	m := newTestMarketplace(t, WithGenesis(map[model.Identity]uint64{alice: 100}))
	ctx := context.Background()

	require.NoError(t, m.TransferEther(ctx, alice, bob, 10))

	assert.Equal(t, uint64(90), m.BalanceOf(alice))
	assert.Equal(t, uint64(10), m.BalanceOf(bob))
	assert.Equal(t, uint64(100), m.TotalSupply())
}

func TestTransferEther_InsufficientBalance(t *testing.T) {
	m := newTestMarketplace(t, WithGenesis(map[model.Identity]uint64{alice: 5, bob: 7}))

	err := m.TransferEther(context.Background(), alice, bob, 6)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	assert.Equal(t, uint64(5), m.BalanceOf(alice))
	assert.Equal(t, uint64(7), m.BalanceOf(bob))
}

func TestTransferEther_Validation(t *testing.T) {
	m := newTestMarketplace(t, WithGenesis(map[model.Identity]uint64{alice: 5}))
	ctx := context.Background()

	assert.ErrorIs(t, m.TransferEther(ctx, alice, bob, 0), ErrValidation)
	assert.ErrorIs(t, m.TransferEther(ctx, alice, alice, 1), ErrValidation)
	assert.ErrorIs(t, m.TransferEther(ctx, alice, model.Identity{}, 1), ErrInvalidIdentity)
	assert.Equal(t, uint64(5), m.BalanceOf(alice))
}

func TestTransferEther_SelfTransferAllowed(t *testing.T) {
	store := &stubStore{}
	m := newTestMarketplace(t,
		WithGenesis(map[model.Identity]uint64{alice: 5}),
		WithSelfTransfer(true),
		WithStore(store),
	)

	require.NoError(t, m.TransferEther(context.Background(), alice, alice, 5))
	assert.Equal(t, uint64(5), m.BalanceOf(alice))
	assert.Empty(t, store.transfers)
}

func TestStoreFailure_RollsBack(t *testing.T) {
	storeErr := errors.New("connection refused")
	store := &stubStore{
		productErr:  storeErr,
		userErr:     storeErr,
		transferErr: storeErr,
	}
	m := newTestMarketplace(t, WithGenesis(map[model.Identity]uint64{alice: 50}), WithStore(store))
	ctx := context.Background()

	_, err := m.CreateProduct(ctx, "x", 1, model.ProductStatusAvailable)
	assert.ErrorIs(t, err, storeErr)
	assert.Empty(t, m.ListProducts())

	err = m.RegisterUser(ctx, alice, "a", "b")
	assert.ErrorIs(t, err, storeErr)
	assert.False(t, m.GetUserInfo(alice).IsRegistered)

	err = m.TransferEther(ctx, alice, bob, 10)
	assert.ErrorIs(t, err, storeErr)
	assert.Equal(t, uint64(50), m.BalanceOf(alice))
	assert.Equal(t, uint64(0), m.BalanceOf(bob))

	// после восстановления хранилища индексы продолжаются без пропусков
	store.productErr = nil
	idx, err := m.CreateProduct(ctx, "y", 1, model.ProductStatusAvailable)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

func TestStore_ReceivesCommittedState(t *testing.T) {
	store := &stubStore{}
	m := newTestMarketplace(t, WithGenesis(map[model.Identity]uint64{alice: 50}), WithStore(store))
	ctx := context.Background()

	_, err := m.CreateProduct(ctx, "x", 3, model.ProductStatusSold)
	require.NoError(t, err)
	require.NoError(t, m.RegisterUser(ctx, bob, "Bob", "bob@example.com"))
	require.NoError(t, m.TransferEther(ctx, alice, bob, 20))

	assert.Equal(t, []model.Product{{Name: "x", Price: 3, Status: model.ProductStatusSold}}, store.products)
	assert.True(t, store.users[bob].IsRegistered)
	assert.Equal(t, map[model.Identity]uint64{alice: 30, bob: 20}, store.balances)
}

func TestNew_WithSnapshot(t *testing.T) {
	snap := model.Snapshot{
		Products: []model.Product{{Name: "a", Price: 1, Status: model.ProductStatusAvailable}},
		Users:    map[model.Identity]model.UserProfile{alice: {Name: "A", Email: "a@a", IsRegistered: true}},
		Balances: map[model.Identity]uint64{alice: 3, bob: 4},
	}
	m := newTestMarketplace(t, WithSnapshot(snap), WithGenesis(map[model.Identity]uint64{carol: 1000}))

	assert.Equal(t, snap, m.Snapshot())
	assert.Equal(t, uint64(0), m.BalanceOf(carol))
	assert.Equal(t, Stats{Products: 1, Users: 1, Accounts: 2, TotalSupply: 7}, m.Stats())
}

func TestNew_GenesisOverflow(t *testing.T) {
	_, err := New(WithGenesis(map[model.Identity]uint64{alice: ^uint64(0), bob: 2}))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestConcurrentDisjointTransfers(t *testing.T) {
	const pairs = 16
	const rounds = 50

	genesis := make(map[model.Identity]uint64, pairs*2)
	senders := make([]model.Identity, pairs)
	receivers := make([]model.Identity, pairs)
	for i := 0; i < pairs; i++ {
		senders[i] = testIdentity(t, 2*i+1)
		receivers[i] = testIdentity(t, 2*i+2)
		genesis[senders[i]] = 1000
	}

	m := newTestMarketplace(t, WithGenesis(genesis))
	supply := m.TotalSupply()

	var wg sync.WaitGroup
	for i := 0; i < pairs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				if err := m.TransferEther(context.Background(), senders[i], receivers[i], 3); err != nil {
					t.Errorf("transfer %d: %v", i, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < pairs; i++ {
		assert.Equal(t, uint64(1000-3*rounds), m.BalanceOf(senders[i]))
		assert.Equal(t, uint64(3*rounds), m.BalanceOf(receivers[i]))
	}
	assert.Equal(t, supply, m.TotalSupply())
}

func TestConcurrentOverlappingTransfers_NeverNegative(t *testing.T) {
	m := newTestMarketplace(t, WithGenesis(map[model.Identity]uint64{alice: 100, bob: 100}))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			to := bob
			if i%2 == 1 {
				to = carol
			}
			err := m.TransferEther(context.Background(), alice, to, 7)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrInsufficientBalance) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}

	// чтение во время записи всегда видит согласованный снимок
	for i := 0; i < 100; i++ {
		s := m.Snapshot()
		var sum uint64
		for _, b := range s.Balances {
			sum += b
		}
		assert.Equal(t, uint64(200), sum)
	}
	wg.Wait()

	assert.Equal(t, 100/7, succeeded)
	assert.Equal(t, uint64(100%7), m.BalanceOf(alice))
	assert.Equal(t, uint64(200), m.BalanceOf(alice)+m.BalanceOf(bob)+m.BalanceOf(carol))
}

func testIdentity(t *testing.T, n int) model.Identity {
	t.Helper()

	id, err := model.ParseIdentity(fmt.Sprintf("0x%040x", n))
	require.NoError(t, err)
	return id
}

func TestCreateProduct_RecoversAfterLostAck(t *testing.T) {
	store := &ackLossStore{}
	m := newTestMarketplace(t, WithStore(store))
	ctx := context.Background()

	_, err := m.CreateProduct(ctx, "T-short", 2000, model.ProductStatusAvailable)
	require.ErrorIs(t, err, errConnReset)
	assert.Empty(t, m.ListProducts())
	assert.Len(t, store.products, 1)

	idx, err := m.CreateProduct(ctx, "T-short", 2000, model.ProductStatusAvailable)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	idx, err = m.CreateProduct(ctx, "Hoodie", 3000, model.ProductStatusReserved)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	assert.Equal(t, store.products, m.ListProducts())
}

func TestRegisterUser_RecoversAfterLostAck(t *testing.T) {
	store := &ackLossStore{}
	m := newTestMarketplace(t, WithStore(store))
	ctx := context.Background()
	id := testIdentity(t, 7)

	require.ErrorIs(t, m.RegisterUser(ctx, id, "Ruslan", "ruslan@mts.ru"), errConnReset)
	assert.False(t, m.GetUserInfo(id).IsRegistered)

	require.NoError(t, m.RegisterUser(ctx, id, "Ruslan", "ruslan@mts.ru"))
	assert.Equal(t, store.users[id], m.GetUserInfo(id))
	assert.True(t, m.GetUserInfo(id).IsRegistered)
}
