// Файловое хранилище MTProto-сессий: по одному файлу на канонический номер в
// каталоге сессий. Запись атомарна — частично записанный файл сессии
// равносилен потере авторизации аккаунта. Обновление файла происходит при
// каждом успешном шаге логина, поэтому прошедший авторизацию номер переживает
// рестарт сервиса.

package telegram

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/go-faster/errors"
	tdsession "github.com/gotd/td/session"

	"marketplace-authbot/internal/infra/storage"
)

// fileStorage реализует tdsession.Storage поверх обычного файла.
// Потокобезопасен: Load/Store защищены мьютексом.
type fileStorage struct {
	path string
	mux  sync.Mutex
}

var _ tdsession.Storage = (*fileStorage)(nil)

// LoadSession читает файл сессии с диска.
func (f *fileStorage) LoadSession(_ context.Context) ([]byte, error) {
	f.mux.Lock()
	defer f.mux.Unlock()

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, tdsession.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "read session")
	}
	return data, nil
}

// StoreSession атомарно сохраняет данные сессии на диск.
func (f *fileStorage) StoreSession(_ context.Context, data []byte) error {
	f.mux.Lock()
	defer f.mux.Unlock()

	if err := storage.AtomicWriteFile(f.path, data); err != nil {
		return fmt.Errorf("atomic write session: %w", err)
	}
	return nil
}
