package schema

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Marker is told about every path before the writer touches it, so a
// watcher on the same directory can ignore the resulting events.
type Marker interface {
	MarkFileAsWritten(path string)
}

// Writer persists items in the folder layout ReadItem understands.
type Writer struct {
	marker Marker
	now    func() time.Time
}

// NewWriter returns a Writer that reports paths to m. m may be nil.
func NewWriter(m Marker) *Writer {
	return &Writer{marker: m, now: time.Now}
}

func (w *Writer) mark(path string) {
	if w.marker != nil {
		w.marker.MarkFileAsWritten(path)
	}
}

// WriteItem writes item into its folder under kindDir. Block files that are
// no longer part of the item are removed. SavedAt is stamped on item.
func (w *Writer) WriteItem(kindDir string, item *DiskItem) error {
	if err := item.Validate(); err != nil {
		return err
	}

	dir := filepath.Join(kindDir, item.DiskID)
	w.mark(dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create item directory: %w", err)
	}

	item.SavedAt = w.now().UTC()
	meta := itemMeta{
		ID:               item.DiskID,
		Title:            item.Title,
		Category:         item.Category,
		Tags:             item.Tags,
		Visibility:       item.Visibility,
		CreatedAt:        item.CreatedAt.UTC(),
		UpdatedAt:        item.UpdatedAt.UTC(),
		SavedAt:          item.SavedAt,
		ProviderSettings: item.ProviderSettings,
	}

	keep := make(map[string]bool, len(item.Blocks))
	for _, b := range item.Blocks {
		keep[b.StableName] = true
		meta.Blocks = append(meta.Blocks, blockMeta{
			Name:      b.StableName,
			CreatedAt: b.CreatedAt.UTC(),
			UpdatedAt: b.UpdatedAt.UTC(),
		})
		if err := w.writeFile(filepath.Join(dir, b.StableName+BlockExt), []byte(b.Content)); err != nil {
			return fmt.Errorf("failed to write block %s: %w", b.StableName, err)
		}
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(meta); err != nil {
		return fmt.Errorf("failed to encode item metadata: %w", err)
	}
	if err := w.writeFile(filepath.Join(dir, MetaFileName), buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write item metadata: %w", err)
	}

	existing, err := blockFiles(dir)
	if err != nil {
		return err
	}
	for name := range existing {
		if keep[name] {
			continue
		}
		path := filepath.Join(dir, name+BlockExt)
		w.mark(path)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale block %s: %w", name, err)
		}
	}

	return nil
}

// writeFile replaces path atomically through a sibling temp file.
func (w *Writer) writeFile(path string, data []byte) error {
	tmpPath := path + ".tmp"
	w.mark(tmpPath)
	w.mark(path)

	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	success = true
	return nil
}

// DeleteItem removes the folder of diskID under kindDir. Deleting an item
// that does not exist is not an error.
func (w *Writer) DeleteItem(kindDir, diskID string) error {
	if err := validateName(diskID); err != nil {
		return fmt.Errorf("%w: disk id: %v", ErrInvalidItem, err)
	}

	dir := filepath.Join(kindDir, diskID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read item directory: %w", err)
	}

	w.mark(dir)
	for _, entry := range entries {
		w.mark(filepath.Join(dir, entry.Name()))
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete item %s: %w", diskID, err)
	}
	return nil
}

// DirLoader loads full snapshots of one kind from a workspace.
type DirLoader struct {
	// Logger receives warnings about skipped item folders (optional)
	Logger *log.Logger
}

// LoadAll returns every readable item of kind under workspacePath.
func (l DirLoader) LoadAll(ctx context.Context, workspacePath, kind string) ([]*DiskItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(workspacePath) == "" {
		return nil, fmt.Errorf("workspace path is required")
	}
	return ReadAllItems(KindDir(workspacePath, kind), l.Logger)
}
