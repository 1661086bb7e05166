// Package archive exports a connection's chat history to parquet objects in
// cold storage. Archiving copies; it never deletes live history unless the
// caller asks for it.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sqlmentor/sqlmentor/internal/memory"
	"github.com/sqlmentor/sqlmentor/internal/observability"
	"github.com/sqlmentor/sqlmentor/internal/storage"
)

type Result struct {
	Key         string `json:"key"`
	TurnCount   int64  `json:"turn_count"`
	SizeBytes   int64  `json:"size_bytes"`
	ClearedLive bool   `json:"cleared_live"`
}

type Service struct {
	chats  memory.ChatStore
	store  storage.ObjectStore
	logger *slog.Logger
	now    func() time.Time
}

func NewService(chats memory.ChatStore, store storage.ObjectStore, logger *slog.Logger) *Service {
	return &Service{chats: chats, store: store, logger: logger, now: time.Now}
}

// ArchiveHistory uploads the connection's full history as one parquet
// object. With clearAfter set, live history is cleared only after the upload
// succeeded.
func (s *Service) ArchiveHistory(ctx context.Context, connectionID string, clearAfter bool) (Result, error) {
	if s.store == nil {
		return Result{}, fmt.Errorf("object store is not configured")
	}

	turns, err := s.chats.History(ctx, connectionID)
	if err != nil {
		return Result{}, fmt.Errorf("load history for %q: %w", connectionID, err)
	}
	if len(turns) == 0 {
		return Result{}, nil
	}

	encoded, err := EncodeTurnsToParquet(turns)
	if err != nil {
		return Result{}, err
	}

	key, err := storage.BuildArchivePath(connectionID, s.now().UTC())
	if err != nil {
		return Result{}, err
	}

	info, err := s.store.Put(ctx, key, bytes.NewReader(encoded.Data), int64(len(encoded.Data)), storage.PutOptions{
		ContentType: "application/vnd.apache.parquet",
	})
	if err != nil {
		return Result{}, fmt.Errorf("upload archive %q: %w", key, err)
	}

	result := Result{Key: info.Key, TurnCount: encoded.RecordCount, SizeBytes: info.Size}
	if clearAfter {
		if err := s.chats.ClearHistory(ctx, connectionID); err != nil {
			return result, fmt.Errorf("clear history after archive: %w", err)
		}
		result.ClearedLive = true
	}

	observability.ObserveArchivedTurns(encoded.RecordCount)
	if s.logger != nil {
		s.logger.Info("archived chat history",
			slog.String("connection_id", connectionID),
			slog.String("key", result.Key),
			slog.Int64("turns", result.TurnCount),
			slog.Bool("cleared", result.ClearedLive),
		)
	}
	return result, nil
}

// OpenArchive streams a previously exported object back to the caller. Keys
// outside the connection's own archive prefix read as missing.
func (s *Service) OpenArchive(ctx context.Context, connectionID, key string) (io.ReadCloser, error) {
	if s.store == nil {
		return nil, fmt.Errorf("object store is not configured")
	}
	if !storage.ArchiveKeyOwnedBy(key, connectionID) {
		return nil, storage.ErrObjectNotFound
	}
	reader, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, storage.ErrObjectNotFound
		}
		return nil, fmt.Errorf("open archive %q: %w", key, err)
	}
	return reader, nil
}
