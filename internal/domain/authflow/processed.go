// Кэш обработанных пар (requestId, action) с ограниченным горизонтом. Сайт
// держит элемент в pending-списке, пока не получит processed=true, поэтому
// чисто in-memory множество после рестарта заставило бы повторить уже
// выполненные шаги логина. Ключи поэтому персистятся в bbolt; записи старше
// TTL вычищаются фоновой горутиной, иначе множество растёт неограниченно.

package authflow

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"

	"marketplace-authbot/internal/infra/storage"
)

// processedBucket — имя bbolt-бакета: ключ идемпотентности → срок годности
// (unixnano, big-endian).
var processedBucket = []byte("processed")

// ProcessedCache — персистентная реализация SeenCache поверх bbolt.
type ProcessedCache struct {
	db  *bbolt.DB
	ttl time.Duration
	now func() time.Time

	runMu  sync.Mutex // защищает старт/остановку фоновой очистки
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ SeenCache = (*ProcessedCache)(nil)

// OpenProcessedCache открывает (создавая при необходимости) кэш по пути path.
func OpenProcessedCache(path string, ttl time.Duration) (*ProcessedCache, error) {
	if err := storage.EnsureDir(path); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, storage.DefaultFilePerm, nil)
	if err != nil {
		return nil, errors.Wrap(err, "open processed cache")
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(processedBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create processed bucket")
	}
	return &ProcessedCache{db: db, ttl: ttl, now: time.Now}, nil
}

// Seen сообщает, была ли пара уже обработана в пределах горизонта. Истёкшая
// запись считается невиденной и будет перезаписана при MarkSeen.
func (c *ProcessedCache) Seen(key string) (bool, error) {
	var seen bool
	err := c.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(processedBucket).Get([]byte(key))
		if len(raw) == 8 {
			expireAt := time.Unix(0, int64(binary.BigEndian.Uint64(raw))) //nolint:gosec
			seen = c.now().Before(expireAt)
		}
		return nil
	})
	return seen, err
}

// MarkSeen фиксирует пару со сроком годности now+TTL.
func (c *ProcessedCache) MarkSeen(key string) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(c.now().Add(c.ttl).UnixNano())) //nolint:gosec
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(processedBucket).Put([]byte(key), buf[:])
	})
}

// Cleanup удаляет все просроченные записи. Вызывается фоново через Start либо
// синхронно из тестов.
func (c *ProcessedCache) Cleanup() error {
	now := c.now()
	return c.db.Update(func(tx *bbolt.Tx) error {
		cur := tx.Bucket(processedBucket).Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			if len(v) != 8 {
				if err := cur.Delete(); err != nil {
					return err
				}
				continue
			}
			expireAt := time.Unix(0, int64(binary.BigEndian.Uint64(v))) //nolint:gosec
			if now.After(expireAt) {
				if err := cur.Delete(); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Start поднимает фоновую горутину очистки просроченных ключей. Повторные
// вызовы безопасны и игнорируются.
func (c *ProcessedCache) Start(ctx context.Context) {
	if ctx == nil {
		return
	}

	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Go(func() {
		ticker := time.NewTicker(sweepPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				_ = c.Cleanup()
			}
		}
	})
}

// Stop завершает фоновую очистку и дожидается её окончания.
func (c *ProcessedCache) Stop() {
	c.runMu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	c.wg.Wait()
}

// Close останавливает очистку и закрывает базу.
func (c *ProcessedCache) Close() error {
	c.Stop()
	return c.db.Close()
}
