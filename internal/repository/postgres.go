// Package repository содержит реализацию долговременного хранения состояния маркетплейса в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/marketplace/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrUserExists возвращается при попытке повторно сохранить профиль пользователя.
	ErrUserExists = errors.New("user already exists")
	// ErrProductExists возвращается, если товар с таким индексом уже сохранён.
	ErrProductExists = errors.New("product index already taken")
	// ErrCorruptState возвращается, если сохранённые данные нарушают инварианты.
	ErrCorruptState = errors.New("corrupt stored state")
)

// Запись выполняется под блокировкой Marketplace, поэтому суммарная пауза
// между повторами должна оставаться короткой.
var retryDelays = []time.Duration{50 * time.Millisecond, 150 * time.Millisecond, 300 * time.Millisecond}

// PostgresRepository хранит товары, пользователей и балансы в PostgreSQL.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	delays []time.Duration
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool, delays: retryDelays}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i <= len(r.delays); i++ {
		err = fn()
		if err == nil || i == len(r.delays) || !isRetryable(err) {
			return err
		}

		timer := time.NewTimer(r.delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// InsertProduct сохраняет товар под индексом каталога. Повторная запись того же
// товара под тем же индексом не считается ошибкой: после потерянного ответа на
// COMMIT повтор запроса должен завершиться успешно.
func (r *PostgresRepository) InsertProduct(ctx context.Context, index int, p model.Product) error {
	err := r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`INSERT INTO products (idx, name, price, status) VALUES ($1, $2, $3::numeric, $4)
			 ON CONFLICT (idx) DO NOTHING`,
			index, p.Name, strconv.FormatUint(p.Price, 10), p.Status.String(),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 1 {
			return nil
		}

		stored, err := r.productAt(ctx, index)
		if err != nil {
			return err
		}
		if stored != p {
			return fmt.Errorf("%w: %d", ErrProductExists, index)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrProductExists) || errors.Is(err, ErrCorruptState) {
			return err
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r *PostgresRepository) productAt(ctx context.Context, index int) (model.Product, error) {
	var name, price, status string
	err := r.pool.QueryRow(ctx,
		`SELECT name, price::text, status FROM products WHERE idx = $1`, index,
	).Scan(&name, &price, &status)
	if err != nil {
		return model.Product{}, fmt.Errorf("select product: %w", err)
	}

	v, err := parseUint(price)
	if err != nil {
		return model.Product{}, fmt.Errorf("%w: product %d price: %v", ErrCorruptState, index, err)
	}
	st, err := model.ParseProductStatus(status)
	if err != nil {
		return model.Product{}, fmt.Errorf("%w: product %d: %v", ErrCorruptState, index, err)
	}
	return model.Product{Name: name, Price: v, Status: st}, nil
}

// InsertUser сохраняет профиль пользователя. Как и InsertProduct, повторная
// запись того же профиля завершается успешно.
func (r *PostgresRepository) InsertUser(ctx context.Context, id model.Identity, u model.UserProfile) error {
	err := r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`INSERT INTO users (identity, name, email) VALUES ($1, $2, $3)
			 ON CONFLICT (identity) DO NOTHING`,
			id.Hex(), u.Name, u.Email,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 1 {
			return nil
		}

		var name, email string
		err = r.pool.QueryRow(ctx,
			`SELECT name, email FROM users WHERE identity = $1`, id.Hex(),
		).Scan(&name, &email)
		if err != nil {
			return fmt.Errorf("select user: %w", err)
		}
		if name != u.Name || email != u.Email {
			return fmt.Errorf("%w: %s", ErrUserExists, id)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUserExists) {
			return err
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// ApplyTransfer записывает итоговые балансы обоих счетов перевода в одной транзакции.
func (r *PostgresRepository) ApplyTransfer(ctx context.Context, t model.Transfer, fromBalance, toBalance uint64) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := putBalance(ctx, tx, t.From, fromBalance); err != nil {
			return err
		}
		if err := putBalance(ctx, tx, t.To, toBalance); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

func putBalance(ctx context.Context, tx pgx.Tx, id model.Identity, amount uint64) error {
	if amount == 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM balances WHERE identity = $1`, id.Hex()); err != nil {
			return fmt.Errorf("delete balance: %w", err)
		}
		return nil
	}

	_, err := tx.Exec(ctx,
		`INSERT INTO balances (identity, amount) VALUES ($1, $2::numeric)
		 ON CONFLICT (identity) DO UPDATE SET amount = EXCLUDED.amount, updated_at = now()`,
		id.Hex(), strconv.FormatUint(amount, 10),
	)
	if err != nil {
		return fmt.Errorf("upsert balance: %w", err)
	}
	return nil
}

// SeedBalances записывает начальное распределение средств, если таблица балансов пуста.
// Возвращает признак того, что распределение было записано.
func (r *PostgresRepository) SeedBalances(ctx context.Context, alloc map[model.Identity]uint64) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Блокируем таблицу, чтобы два экземпляра не записали распределение одновременно.
	if _, err := tx.Exec(ctx, `LOCK TABLE balances IN EXCLUSIVE MODE`); err != nil {
		return false, fmt.Errorf("lock balances: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM balances)`).Scan(&exists); err != nil {
		return false, fmt.Errorf("check balances: %w", err)
	}
	if exists {
		return false, nil
	}

	for id, amount := range alloc {
		if err := putBalance(ctx, tx, id, amount); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}

// Load читает всё сохранённое состояние.
func (r *PostgresRepository) Load(ctx context.Context) (model.Snapshot, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	products, err := loadProducts(ctx, tx)
	if err != nil {
		return model.Snapshot{}, err
	}
	users, err := loadUsers(ctx, tx)
	if err != nil {
		return model.Snapshot{}, err
	}
	balances, err := loadBalances(ctx, tx)
	if err != nil {
		return model.Snapshot{}, err
	}

	return model.Snapshot{Products: products, Users: users, Balances: balances}, nil
}

func loadProducts(ctx context.Context, tx pgx.Tx) ([]model.Product, error) {
	rows, err := tx.Query(ctx, `SELECT idx, name, price::text, status FROM products ORDER BY idx`)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	var res []model.Product
	for rows.Next() {
		var (
			idx    int
			name   string
			price  string
			status string
		)
		if err := rows.Scan(&idx, &name, &price, &status); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		if idx != len(res) {
			return nil, fmt.Errorf("%w: product index gap at %d", ErrCorruptState, len(res))
		}

		p, err := parseUint(price)
		if err != nil {
			return nil, fmt.Errorf("%w: product %d price: %v", ErrCorruptState, idx, err)
		}
		st, err := model.ParseProductStatus(status)
		if err != nil {
			return nil, fmt.Errorf("%w: product %d: %v", ErrCorruptState, idx, err)
		}

		res = append(res, model.Product{Name: name, Price: p, Status: st})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func loadUsers(ctx context.Context, tx pgx.Tx) (map[model.Identity]model.UserProfile, error) {
	rows, err := tx.Query(ctx, `SELECT identity, name, email FROM users`)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()

	res := make(map[model.Identity]model.UserProfile)
	for rows.Next() {
		var raw, name, email string
		if err := rows.Scan(&raw, &name, &email); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		id, err := model.ParseIdentity(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
		}
		res[id] = model.UserProfile{Name: name, Email: email, IsRegistered: true}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func loadBalances(ctx context.Context, tx pgx.Tx) (map[model.Identity]uint64, error) {
	rows, err := tx.Query(ctx, `SELECT identity, amount::text FROM balances`)
	if err != nil {
		return nil, fmt.Errorf("select balances: %w", err)
	}
	defer rows.Close()

	res := make(map[model.Identity]uint64)
	for rows.Next() {
		var raw, amount string
		if err := rows.Scan(&raw, &amount); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		id, err := model.ParseIdentity(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
		}
		v, err := parseUint(amount)
		if err != nil {
			return nil, fmt.Errorf("%w: balance of %s: %v", ErrCorruptState, id, err)
		}
		res[id] = v
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func parseUint(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(s), 10, 64)
}
