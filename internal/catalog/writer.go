package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// BlobStore mirrors catalog backups to remote object storage.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// WriterConfig captures the parameters for catalog persistence.
type WriterConfig struct {
	// CatalogPath is the JSON catalog file consumed by the map layer.
	CatalogPath string
	// RunID names the backup objects written for this run.
	RunID string
	// BackupPrefix is the object prefix used when mirroring backups.
	BackupPrefix string
}

// Writer integrates batches of enriched records into the persisted catalog.
// It assumes a single writer process per catalog file.
type Writer struct {
	cfg    WriterConfig
	mirror BlobStore
	logger *zap.Logger

	mu       sync.Mutex
	backedUp bool
}

// NewWriter constructs a Writer. mirror may be nil.
func NewWriter(cfg WriterConfig, mirror BlobStore, logger *zap.Logger) *Writer {
	return &Writer{cfg: cfg, mirror: mirror, logger: logger}
}

// Load reads the catalog file. A missing file yields an empty catalog.
func Load(path string) ([]ContentRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var records []ContentRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return records, nil
}

// Flush merges a batch into the catalog on disk. The catalog is re-read
// immediately before writing so records persisted by earlier batches are
// never lost, existing records not in the batch are kept unchanged, and a
// full-file backup is taken before the first overwrite of a run. Errors here
// are fatal to the run; partial catalog loss is never acceptable.
func (w *Writer) Flush(ctx context.Context, batch []ContentRecord) error {
	if len(batch) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	existing, err := Load(w.cfg.CatalogPath)
	if err != nil {
		return err
	}

	if err := w.backupOnce(ctx); err != nil {
		return err
	}

	merged := Merge(existing, batch)
	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}

	if err := writeFileAtomic(w.cfg.CatalogPath, data); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	w.logger.Info("catalog flushed",
		zap.Int("batch", len(batch)),
		zap.Int("total", len(merged)),
	)
	return nil
}

// Merge replaces existing records updated by the batch and appends records
// whose id was not previously present. Existing order is preserved.
func Merge(existing, batch []ContentRecord) []ContentRecord {
	updates := make(map[string]ContentRecord, len(batch))
	for _, rec := range batch {
		updates[rec.ID] = rec
	}
	merged := make([]ContentRecord, 0, len(existing)+len(batch))
	for _, rec := range existing {
		if update, ok := updates[rec.ID]; ok {
			merged = append(merged, update)
			delete(updates, rec.ID)
			continue
		}
		merged = append(merged, rec)
	}
	for _, rec := range batch {
		if _, pending := updates[rec.ID]; pending {
			merged = append(merged, rec)
			delete(updates, rec.ID)
		}
	}
	return merged
}

func (w *Writer) backupOnce(ctx context.Context) error {
	if w.backedUp {
		return nil
	}
	data, err := os.ReadFile(w.cfg.CatalogPath)
	if err != nil {
		if os.IsNotExist(err) {
			w.backedUp = true
			return nil
		}
		return fmt.Errorf("read catalog for backup: %w", err)
	}

	backupPath := w.cfg.CatalogPath + ".bak"
	if err := writeFileAtomic(backupPath, data); err != nil {
		return fmt.Errorf("write catalog backup: %w", err)
	}
	w.logger.Info("catalog backup written", zap.String("path", backupPath))

	if w.mirror != nil {
		object := filepath.ToSlash(filepath.Join(w.cfg.BackupPrefix, w.cfg.RunID, filepath.Base(w.cfg.CatalogPath)))
		uri, err := w.mirror.PutObject(ctx, object, "application/json", bytes.NewReader(data))
		if err != nil {
			// The local backup already exists; a mirror failure should not
			// abort the run.
			w.logger.Warn("backup mirror failed", zap.Error(err))
		} else {
			w.logger.Info("catalog backup mirrored", zap.String("uri", uri))
		}
	}

	w.backedUp = true
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace file: %w", err)
	}
	return nil
}
