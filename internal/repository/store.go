package repository

import (
	"context"

	"github.com/mmeshcher/accessgate/internal/model"
)

// Store объединяет операции хранилища, нужные компонентам сервиса.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	InsertLicense(ctx context.Context, rec model.LicenseRecord) error
	ListLicenses(ctx context.Context) ([]model.LicenseRecord, error)
	Close() error
}

var (
	_ Store = (*PostgresRepository)(nil)
	_ Store = (*FileStore)(nil)
)

// Open выбирает хранилище: PostgreSQL, если задан dsn, иначе файл по пути path.
func Open(dsn, path string) (Store, error) {
	if dsn != "" {
		return NewPostgresRepository(dsn)
	}
	return OpenFileStore(path)
}
