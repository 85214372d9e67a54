package storage

import (
	"context"
	"io"
)

// UploadResult - итог загрузки скриншота матча в блоб-хранилище.
type UploadResult struct {
	Key      string // ключ объекта в бакете
	Location string // публичный адрес для отдачи клиентам
	ETag     string
}

// FileUploader - блоб-хранилище скриншотов результатов матчей. Боевая
// реализация - Cloudflare R2, тесты подставляют in-memory фейк.
type FileUploader interface {
	// Upload кладёт объект под заданным ключом и возвращает его адрес.
	Upload(ctx context.Context, key string, contentType string, reader io.Reader) (*UploadResult, error)

	// Delete удаляет объект; вызывается при замене скриншота новым.
	Delete(ctx context.Context, key string) error

	// GetPublicURL строит публичный адрес по ключу без похода в хранилище.
	GetPublicURL(key string) string
}
