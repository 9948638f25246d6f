// Package reconcile merges on-disk snapshots into in-memory entity
// collections.
//
// Reconcile runs three passes over one snapshot:
//
//  1. Prune: entities whose OutputID is set but absent from the snapshot
//     are dropped. Drafts (empty OutputID) always survive.
//  2. Update: entities matched by OutputID get their metadata overwritten.
//     Their blocks are rebuilt only when block ids or contents differ, so
//     unchanged entities keep the same Blocks slice across reloads.
//  3. Add: unmatched disk items become new entities whose block ids are
//     the disk stable names.
//
// Reconcile is pure. It never mutates the entities it is given; matched
// entities are replaced by updated copies.
package reconcile

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/folio-app/folio/internal/schema"
)

// Block is one content block of an in-memory entity.
type Block struct {
	LocalID   string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Entity is the in-memory working copy of a persisted item.
type Entity struct {
	LocalID string
	Title   string
	Blocks  []*Block
	// OutputID links the entity to its disk folder. It is empty for
	// drafts that were never saved and does not change once set.
	OutputID         string
	Category         string
	Tags             []string
	Visibility       string
	ProviderSettings map[string]string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsDraft reports whether the entity has never been persisted.
func (e *Entity) IsDraft() bool {
	return e.OutputID == ""
}

// Reconciler reconciles one entity kind.
type Reconciler struct {
	Kind  string
	NewID func() string
	Now   func() time.Time
}

// New returns a Reconciler for kind using random UUIDs and the wall clock.
func New(kind string) *Reconciler {
	return &Reconciler{Kind: kind, NewID: uuid.NewString, Now: time.Now}
}

// Reconcile returns current updated to match items. Surviving entities keep
// their order; new entities follow in snapshot order. When items contains
// the same DiskID twice, the first occurrence is used.
func (r *Reconciler) Reconcile(items []*schema.DiskItem, current []*Entity) []*Entity {
	byDiskID := make(map[string]*schema.DiskItem, len(items))
	for _, it := range items {
		if it == nil || it.DiskID == "" {
			continue
		}
		if _, dup := byDiskID[it.DiskID]; !dup {
			byDiskID[it.DiskID] = it
		}
	}

	out := make([]*Entity, 0, len(current)+len(items))
	matched := make(map[string]bool, len(current))
	for _, e := range current {
		if e == nil {
			continue
		}
		if e.IsDraft() {
			out = append(out, e)
			continue
		}
		it, ok := byDiskID[e.OutputID]
		if !ok {
			continue
		}
		if matched[e.OutputID] {
			continue
		}
		matched[e.OutputID] = true
		out = append(out, r.update(e, it))
	}

	for _, it := range items {
		if it == nil || it.DiskID == "" || matched[it.DiskID] {
			continue
		}
		if byDiskID[it.DiskID] != it {
			continue
		}
		matched[it.DiskID] = true
		out = append(out, r.materialize(it))
	}

	return out
}

func (r *Reconciler) update(e *Entity, it *schema.DiskItem) *Entity {
	next := *e
	next.Title = it.Title
	next.Category = it.Category
	next.Tags = it.Tags
	next.Visibility = it.Visibility
	next.ProviderSettings = it.ProviderSettings
	next.UpdatedAt = it.UpdatedAt

	if !r.blocksMatch(e.Blocks, it.Blocks) {
		next.Blocks = r.blocksFrom(it.Blocks)
	}
	return &next
}

// blocksMatch reports whether the in-memory blocks already reflect disk.
// A disk item without blocks matches a single empty block, which is what
// materializing it would produce.
func (r *Reconciler) blocksMatch(mem []*Block, disk []schema.DiskBlock) bool {
	if len(disk) == 0 {
		return len(mem) == 1 && mem[0] != nil && mem[0].Content == ""
	}
	i := 0
	for _, b := range mem {
		if b == nil {
			continue
		}
		if i == len(disk) || b.LocalID != disk[i].StableName || b.Content != disk[i].Content {
			return false
		}
		i++
	}
	return i == len(disk)
}

// SameBlocks reports whether a and b hold the same block ids and contents
// in the same order. Nil blocks are skipped.
func SameBlocks(a, b []*Block) bool {
	a, b = liveBlocks(a), liveBlocks(b)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].LocalID != b[i].LocalID || a[i].Content != b[i].Content {
			return false
		}
	}
	return true
}

func liveBlocks(blocks []*Block) []*Block {
	out := make([]*Block, 0, len(blocks))
	for _, b := range blocks {
		if b != nil {
			out = append(out, b)
		}
	}
	return out
}

func (r *Reconciler) materialize(it *schema.DiskItem) *Entity {
	return &Entity{
		LocalID:          r.NewID(),
		Title:            it.Title,
		Blocks:           r.blocksFrom(it.Blocks),
		OutputID:         it.DiskID,
		Category:         it.Category,
		Tags:             it.Tags,
		Visibility:       it.Visibility,
		ProviderSettings: it.ProviderSettings,
		CreatedAt:        it.CreatedAt,
		UpdatedAt:        it.UpdatedAt,
	}
}

func (r *Reconciler) blocksFrom(disk []schema.DiskBlock) []*Block {
	if len(disk) == 0 {
		return []*Block{r.emptyBlock()}
	}
	blocks := make([]*Block, len(disk))
	for i, b := range disk {
		blocks[i] = &Block{
			LocalID:   b.StableName,
			Content:   b.Content,
			CreatedAt: b.CreatedAt,
			UpdatedAt: b.UpdatedAt,
		}
	}
	return blocks
}

func (r *Reconciler) emptyBlock() *Block {
	now := r.Now()
	return &Block{LocalID: r.NewID(), CreatedAt: now, UpdatedAt: now}
}

// NewDraft returns an unsaved entity with one empty block.
func (r *Reconciler) NewDraft(title string) *Entity {
	now := r.Now()
	return &Entity{
		LocalID:   r.NewID(),
		Title:     title,
		Blocks:    []*Block{r.emptyBlock()},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Fingerprint summarizes in-memory blocks in order as quoted "id":"content"
// pairs joined by ",". Quoting keeps separators inside content from making
// two different block lists print the same.
func Fingerprint(blocks []*Block) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b == nil {
			continue
		}
		parts = append(parts, fingerprintPart(b.LocalID, b.Content))
	}
	return strings.Join(parts, ",")
}

// DiskFingerprint is Fingerprint for disk blocks, keyed by stable name.
func DiskFingerprint(blocks []schema.DiskBlock) string {
	parts := make([]string, len(blocks))
	for i, b := range blocks {
		parts[i] = fingerprintPart(b.StableName, b.Content)
	}
	return strings.Join(parts, ",")
}

func fingerprintPart(id, content string) string {
	return strconv.Quote(id) + ":" + strconv.Quote(content)
}

// ToDiskItem maps e to the disk form written under diskID. Block local ids
// become stable names so the next reload keeps them.
func ToDiskItem(e *Entity, diskID string) *schema.DiskItem {
	item := &schema.DiskItem{
		DiskID:           diskID,
		Title:            e.Title,
		Category:         e.Category,
		Tags:             e.Tags,
		Visibility:       e.Visibility,
		ProviderSettings: e.ProviderSettings,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
	for _, b := range e.Blocks {
		if b == nil {
			continue
		}
		item.Blocks = append(item.Blocks, schema.DiskBlock{
			StableName: b.LocalID,
			Content:    b.Content,
			CreatedAt:  b.CreatedAt,
			UpdatedAt:  b.UpdatedAt,
		})
	}
	return item
}
