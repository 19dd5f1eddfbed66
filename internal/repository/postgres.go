// Package repository содержит реализации локального хранилища сервиса доступа.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/accessgate/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrLicenseExists возвращается при попытке повторно сохранить уже погашенный ключ.
var ErrLicenseExists = errors.New("license already redeemed")

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
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

	r := &PostgresRepository{pool: pool}

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

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Get возвращает значение по ключу. Отсутствие ключа не является ошибкой.
func (r *PostgresRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.pool.QueryRow(ctx, `SELECT value FROM kv WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// Set сохраняет значение по ключу.
func (r *PostgresRepository) Set(ctx context.Context, key, value string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO kv (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// InsertLicense сохраняет запись о погашении. Уникальность ключа обеспечивается ограничением таблицы.
func (r *PostgresRepository) InsertLicense(ctx context.Context, rec model.LicenseRecord) error {
	cmdTag, err := r.pool.Exec(ctx,
		`INSERT INTO licenses (license_key, product_id, proof_image, redeemed_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (license_key) DO NOTHING`,
		rec.LicenseKey, rec.ProductID, rec.ProofImage, rec.RedeemedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrLicenseExists, rec.LicenseKey)
		}
		return fmt.Errorf("insert license: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrLicenseExists, rec.LicenseKey)
	}

	return nil
}

// ListLicenses возвращает историю погашений, начиная с последних. Изображения не загружаются.
func (r *PostgresRepository) ListLicenses(ctx context.Context) ([]model.LicenseRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT license_key, product_id, redeemed_at
		 FROM licenses
		 ORDER BY redeemed_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select licenses: %w", err)
	}
	defer rows.Close()

	var res []model.LicenseRecord
	for rows.Next() {
		var rec model.LicenseRecord
		if err := rows.Scan(&rec.LicenseKey, &rec.ProductID, &rec.RedeemedAt); err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		res = append(res, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
