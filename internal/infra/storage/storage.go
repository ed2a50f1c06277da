// Package storage — утилиты безопасной работы с локальным хранилищем.
// Здесь небезразлична целостность: в каталоге сессий лежат MTProto-учётки
// по одному файлу на номер, и частично записанный файл эквивалентен потере
// авторизации. Реализовано:
//   - EnsureDir — гарантирует наличие каталога для целевого пути;
//   - AtomicWriteFile — атомарная запись через temp + rename с fsync.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"marketplace-authbot/internal/infra/logger"
)

// DefaultFilePerm — права на итоговые файлы. 0o600 ограничивает доступ
// владельцем процесса: в файлах лежат авторизационные ключи.
const DefaultFilePerm = 0o600

// EnsureDir гарантирует наличие каталога для указанного файла. Если путь не
// содержит директорию ("." или пустая строка), ничего не делает. Каталог
// создаётся с правами 0o700.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}

// AtomicWriteFile атомарно записывает байты в файл path.
//
// Алгоритм: temp в той же директории → write → fsync(temp) → chmod → close →
// rename → fsync(dir). Либо старый файл остаётся цел, либо новый записан
// полностью. os.Rename атомарен только в пределах одного файлового тома,
// поэтому temp создаётся рядом с целевым файлом. fsync каталога — best-effort.
func AtomicWriteFile(path string, data []byte) error {
	clean := filepath.Clean(path)
	if err := EnsureDir(clean); err != nil {
		return err
	}
	dir := filepath.Dir(clean)

	tmp, err := os.CreateTemp(dir, "atomic-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Chmod(DefaultFilePerm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, clean); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	// Журналируем запись имени файла в каталоге; некоторые ОС/ФС игнорируют.
	if dirFile, err := os.Open(dir); err == nil {
		if errSync := dirFile.Sync(); errSync != nil {
			logger.Warnf("AtomicWriteFile: dir sync error: %v", errSync)
		}
		_ = dirFile.Close()
	}
	return nil
}
