package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/mmeshcher/accessgate/internal/model"
)

const fileSnapshotVersion = 1

type fileSnapshot struct {
	Version  int                   `json:"version"`
	Values   map[string]string     `json:"values"`
	Licenses []model.LicenseRecord `json:"licenses"`
}

// FileStore хранит данные в одном JSON-файле. Каждая запись сбрасывается на диск до возврата.
type FileStore struct {
	mu   sync.RWMutex
	file *os.File
	snap *fileSnapshot
}

// OpenFileStore открывает или создаёт файл хранилища.
func OpenFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	s := &FileStore{file: f}
	if err := s.load(); err != nil {
		_ = f.Close()
		return nil, err
	}

	return s, nil
}

// Close закрывает файл хранилища.
func (s *FileStore) Close() error {
	return s.file.Close()
}

func (s *FileStore) load() error {
	info, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("stat store: %w", err)
	}

	if info.Size() == 0 {
		s.snap = &fileSnapshot{Version: fileSnapshotVersion, Values: map[string]string{}}
		return s.flushLocked(s.snap)
	}

	var snap fileSnapshot
	if err := json.NewDecoder(s.file).Decode(&snap); err != nil {
		return fmt.Errorf("decode store: %w", err)
	}
	if snap.Values == nil {
		snap.Values = map[string]string{}
	}
	s.snap = &snap

	return nil
}

// clone копирует снимок, чтобы изменения применялись к памяти только после записи на диск.
func (snap *fileSnapshot) clone() *fileSnapshot {
	values := make(map[string]string, len(snap.Values))
	for k, v := range snap.Values {
		values[k] = v
	}

	return &fileSnapshot{
		Version:  snap.Version,
		Values:   values,
		Licenses: append([]model.LicenseRecord(nil), snap.Licenses...),
	}
}

func (s *FileStore) flushLocked(snap *fileSnapshot) error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek store: %w", err)
	}

	if err := json.NewEncoder(s.file).Encode(snap); err != nil {
		return fmt.Errorf("encode store: %w", err)
	}

	// новое содержимое может быть короче прежнего
	pos, err := s.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("seek store: %w", err)
	}
	if err := s.file.Truncate(pos); err != nil {
		return fmt.Errorf("truncate store: %w", err)
	}

	return s.file.Sync()
}

func (s *FileStore) withWrite(ctx context.Context, fn func(*fileSnapshot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	next := s.snap.clone()
	if err := fn(next); err != nil {
		return err
	}

	if err := s.flushLocked(next); err != nil {
		return err
	}

	s.snap = next
	return nil
}

// Get возвращает значение по ключу. Отсутствие ключа не является ошибкой.
func (s *FileStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.snap.Values[key]
	return v, ok, nil
}

// Set сохраняет значение по ключу.
func (s *FileStore) Set(ctx context.Context, key, value string) error {
	return s.withWrite(ctx, func(snap *fileSnapshot) error {
		snap.Values[key] = value
		return nil
	})
}

// InsertLicense сохраняет запись о погашении. Проверка и вставка выполняются под одной блокировкой.
func (s *FileStore) InsertLicense(ctx context.Context, rec model.LicenseRecord) error {
	return s.withWrite(ctx, func(snap *fileSnapshot) error {
		for _, existing := range snap.Licenses {
			if existing.LicenseKey == rec.LicenseKey {
				return fmt.Errorf("%w: %s", ErrLicenseExists, rec.LicenseKey)
			}
		}
		snap.Licenses = append(snap.Licenses, rec)
		return nil
	})
}

// ListLicenses возвращает историю погашений, начиная с последних. Изображения не возвращаются.
func (s *FileStore) ListLicenses(ctx context.Context) ([]model.LicenseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]model.LicenseRecord, 0, len(s.snap.Licenses))
	for _, rec := range s.snap.Licenses {
		rec.ProofImage = nil
		res = append(res, rec)
	}

	sort.SliceStable(res, func(i, j int) bool {
		return res[i].RedeemedAt.After(res[j].RedeemedAt)
	})

	return res, nil
}
