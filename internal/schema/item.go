// Package schema defines the on-disk layout of workspace items and reads
// and writes it.
package schema

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// MetaFileName is the metadata file inside every item folder.
	MetaFileName = "meta.toml"

	// BlockExt is the extension of block files. The file name without it
	// is the block's stable name.
	BlockExt = ".md"
)

// ErrInvalidItem is returned for items that cannot be written.
var ErrInvalidItem = errors.New("invalid item")

// DiskBlock is one persisted content block.
type DiskBlock struct {
	// StableName is the block's identity across saves. It is the block
	// file name without BlockExt.
	StableName string
	Content    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DiskItem is one persisted entity as loaded from its folder.
type DiskItem struct {
	// DiskID is the item folder name.
	DiskID           string
	Title            string
	Category         string
	Tags             []string
	Visibility       string
	ProviderSettings map[string]string
	Blocks           []DiskBlock
	CreatedAt        time.Time
	UpdatedAt        time.Time
	SavedAt          time.Time
}

// Validate checks the fields the layout depends on.
func (it *DiskItem) Validate() error {
	if err := validateName(it.DiskID); err != nil {
		return fmt.Errorf("%w: disk id: %v", ErrInvalidItem, err)
	}
	seen := make(map[string]bool, len(it.Blocks))
	for i, b := range it.Blocks {
		if err := validateName(b.StableName); err != nil {
			return fmt.Errorf("%w: block %d: %v", ErrInvalidItem, i, err)
		}
		if seen[b.StableName] {
			return fmt.Errorf("%w: duplicate block name %q", ErrInvalidItem, b.StableName)
		}
		seen[b.StableName] = true
	}
	return nil
}

func validateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("name is required")
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("name %q must not contain path separators", name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("name %q must not start with a dot", name)
	case strings.HasSuffix(name, ".tmp"):
		return fmt.Errorf("name %q must not end in .tmp", name)
	}
	return nil
}

// itemMeta is the TOML form of meta.toml.
type itemMeta struct {
	ID               string            `toml:"id"`
	Title            string            `toml:"title"`
	Category         string            `toml:"category,omitempty"`
	Tags             []string          `toml:"tags,omitempty"`
	Visibility       string            `toml:"visibility,omitempty"`
	CreatedAt        time.Time         `toml:"created_at"`
	UpdatedAt        time.Time         `toml:"updated_at"`
	SavedAt          time.Time         `toml:"saved_at"`
	ProviderSettings map[string]string `toml:"provider_settings,omitempty"`
	Blocks           []blockMeta       `toml:"blocks,omitempty"`
}

type blockMeta struct {
	Name      string    `toml:"name"`
	CreatedAt time.Time `toml:"created_at"`
	UpdatedAt time.Time `toml:"updated_at"`
}

// KindDir returns the directory holding all items of kind.
func KindDir(workspacePath, kind string) string {
	return filepath.Join(workspacePath, kind)
}

// ReadItem reads the item stored in dir. Block order follows meta.toml;
// block files it does not list are appended in name order.
func ReadItem(dir string) (*DiskItem, error) {
	metaPath := filepath.Join(dir, MetaFileName)
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read item metadata %s: %w", metaPath, err)
	}

	var meta itemMeta
	if err := toml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse item metadata %s: %w", metaPath, err)
	}

	files, err := blockFiles(dir)
	if err != nil {
		return nil, err
	}

	item := &DiskItem{
		DiskID:           filepath.Base(dir),
		Title:            meta.Title,
		Category:         meta.Category,
		Tags:             meta.Tags,
		Visibility:       meta.Visibility,
		ProviderSettings: meta.ProviderSettings,
		CreatedAt:        meta.CreatedAt,
		UpdatedAt:        meta.UpdatedAt,
		SavedAt:          meta.SavedAt,
	}

	listed := make(map[string]bool, len(meta.Blocks))
	for _, bm := range meta.Blocks {
		if _, ok := files[bm.Name]; !ok || listed[bm.Name] {
			continue
		}
		listed[bm.Name] = true
		block, err := readBlock(dir, bm.Name)
		if err != nil {
			return nil, err
		}
		block.CreatedAt = bm.CreatedAt
		block.UpdatedAt = bm.UpdatedAt
		item.Blocks = append(item.Blocks, block)
	}

	var extra []string
	for name := range files {
		if !listed[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		block, err := readBlock(dir, name)
		if err != nil {
			return nil, err
		}
		info := files[name]
		block.CreatedAt = info.ModTime()
		block.UpdatedAt = info.ModTime()
		item.Blocks = append(item.Blocks, block)
	}

	return item, nil
}

func blockFiles(dir string) (map[string]os.FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read item directory %s: %w", dir, err)
	}

	files := make(map[string]os.FileInfo)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, BlockExt) || strings.HasPrefix(name, ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files[strings.TrimSuffix(name, BlockExt)] = info
	}
	return files, nil
}

func readBlock(dir, name string) (DiskBlock, error) {
	path := filepath.Join(dir, name+BlockExt)
	data, err := os.ReadFile(path)
	if err != nil {
		return DiskBlock{}, fmt.Errorf("failed to read block %s: %w", path, err)
	}
	return DiskBlock{StableName: name, Content: string(data)}, nil
}

// ReadAllItems reads every item folder under kindDir. A missing directory
// yields no items. Folders that cannot be read are skipped with a warning
// on logger, or on a "[schema] " stderr logger when logger is nil.
func ReadAllItems(kindDir string, logger *log.Logger) ([]*DiskItem, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[schema] ", log.LstdFlags)
	}
	entries, err := os.ReadDir(kindDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*DiskItem{}, nil
		}
		return nil, fmt.Errorf("failed to read kind directory %s: %w", kindDir, err)
	}

	items := make([]*DiskItem, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		item, err := ReadItem(filepath.Join(kindDir, entry.Name()))
		if err != nil {
			logger.Printf("Warning: skipping unreadable item %s: %v", entry.Name(), err)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}
