// Package group implements an aggregated view over a set of download items.
// A Group does not own its members; it holds references that the owning cache
// manager may invalidate at any time, and prunes dead ones during
// recomputation. Derived properties are recomputed as one unit per commit, so
// consumers never observe them inconsistently.
package group

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/skyroute/mapcache/pkg/downloadable"
)

// Changed reports which derived properties a commit actually changed.
type Changed struct {
	Members               bool
	Downloading           bool
	Files                 bool
	HasFile               bool
	Updatable             bool
	UpdateSize            bool
	DownloadablesWithFile bool
}

// Any reports whether anything changed at all.
func (c Changed) Any() bool {
	return c.Members || c.Downloading || c.Files || c.HasFile ||
		c.Updatable || c.UpdateSize || c.DownloadablesWithFile
}

// Hooks carries the change callback of a group.
type Hooks struct {
	// OnChange fires at most once per commit, with the set of properties
	// that changed. It is never fired re-entrantly from within its own
	// recomputation.
	OnChange func(*Group, Changed)
}

// UpdateSize is the aggregated download cost of all updatable members.
// Members whose remote size the catalog does not know are counted in Unknown
// rather than being folded into Bytes as zero.
type UpdateSize struct {
	Bytes   int64
	Unknown int
}

func (u UpdateSize) String() string {
	if u.Unknown == 0 {
		return humanize.Bytes(uint64(u.Bytes))
	}
	if u.Bytes == 0 {
		return fmt.Sprintf("%d item(s) of unknown size", u.Unknown)
	}
	return fmt.Sprintf("%s plus %d item(s) of unknown size", humanize.Bytes(uint64(u.Bytes)), u.Unknown)
}

// Group is a set of non-owning item references with cached aggregate
// properties. All methods are safe for concurrent use; the cached properties
// only change inside Commit.
type Group struct {
	mu      sync.Mutex
	name    string
	members []*downloadable.Item
	hooks   Hooks

	dirty      bool
	committing bool

	// Cached snapshot, replaced wholesale by Commit.
	memberSnap  []*downloadable.Item
	downloading bool
	files       []string
	hasFile     bool
	updatable   bool
	updateSize  UpdateSize
	withFile    []*downloadable.Item
}

// New constructs an empty group.
func New(name string, hooks Hooks) *Group {
	return &Group{name: name, hooks: hooks}
}

// Name returns the group label.
func (g *Group) Name() string { return g.name }

// Add inserts an item into the group and marks it dirty. Adding an item
// twice is a no-op.
func (g *Group) Add(item *downloadable.Item) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range g.members {
		if m == item {
			return
		}
	}
	g.members = append(g.members, item)
	g.dirty = true
}

// Remove takes an item out of the group and marks it dirty.
func (g *Group) Remove(item *downloadable.Item) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, m := range g.members {
		if m == item {
			g.members = append(g.members[:i], g.members[i+1:]...)
			g.dirty = true
			return
		}
	}
}

// Contains reports whether the item is currently a member.
func (g *Group) Contains(item *downloadable.Item) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range g.members {
		if m == item {
			return true
		}
	}
	return false
}

// Items returns the live members, sorted by section and then object name.
// Destroyed items are excluded.
func (g *Group) Items() []*downloadable.Item {
	g.mu.Lock()
	defer g.mu.Unlock()
	items := make([]*downloadable.Item, 0, len(g.members))
	for _, m := range g.members {
		if !m.Destroyed() {
			items = append(items, m)
		}
	}
	sortItems(items)
	return items
}

// MarkDirty flags the group for recomputation at the next Commit. Item
// mutations between MarkDirty and Commit cost exactly one recomputation.
func (g *Group) MarkDirty() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dirty = true
}

// Dirty reports whether a commit is pending.
func (g *Group) Dirty() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dirty
}

// Commit prunes destroyed members, recomputes every derived property, and
// fires OnChange once if anything changed. A clean group is a no-op. A
// MarkDirty arriving from inside the OnChange callback is honored on the
// next Commit rather than re-entering recomputation.
func (g *Group) Commit() {
	g.mu.Lock()
	if !g.dirty || g.committing {
		g.mu.Unlock()
		return
	}
	g.dirty = false
	g.committing = true

	// Prune dead references as part of recomputation.
	live := g.members[:0]
	for _, m := range g.members {
		if m.Destroyed() {
			continue
		}
		live = append(live, m)
	}
	g.members = live

	next := computeSnapshot(g.members)
	changed := Changed{
		Members:               !equalItems(g.memberSnap, next.members),
		Downloading:           g.downloading != next.downloading,
		Files:                 !equalStrings(g.files, next.files),
		HasFile:               g.hasFile != next.hasFile,
		Updatable:             g.updatable != next.updatable,
		UpdateSize:            g.updateSize != next.updateSize,
		DownloadablesWithFile: !equalItems(g.withFile, next.withFile),
	}

	g.memberSnap = next.members
	g.downloading = next.downloading
	g.files = next.files
	g.hasFile = next.hasFile
	g.updatable = next.updatable
	g.updateSize = next.updateSize
	g.withFile = next.withFile
	hooks := g.hooks
	g.mu.Unlock()

	if changed.Any() && hooks.OnChange != nil {
		hooks.OnChange(g, changed)
	}

	g.mu.Lock()
	g.committing = false
	g.mu.Unlock()
}

// Downloading reports whether any member is currently downloading. An empty
// group is not downloading.
func (g *Group) Downloading() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.downloading
}

// Files returns the sorted local paths of all members that have a file.
func (g *Group) Files() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.files...)
}

// HasFile reports whether any member has a local file.
func (g *Group) HasFile() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hasFile
}

// Updatable reports whether any member is updatable. An empty group is not
// updatable.
func (g *Group) Updatable() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.updatable
}

// UpdateSize returns the aggregated download cost of all updatable members.
func (g *Group) UpdateSize() UpdateSize {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.updateSize
}

// DownloadablesWithFile returns the members that have a local file, sorted
// by section and then object name.
func (g *Group) DownloadablesWithFile() []*downloadable.Item {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*downloadable.Item(nil), g.withFile...)
}

// UpdateAll starts a download on every updatable member.
func (g *Group) UpdateAll(ctx context.Context) {
	for _, item := range g.Items() {
		if item.Updatable() {
			item.StartDownload(ctx)
		}
	}
}

type snapshot struct {
	members     []*downloadable.Item
	downloading bool
	files       []string
	hasFile     bool
	updatable   bool
	updateSize  UpdateSize
	withFile    []*downloadable.Item
}

func computeSnapshot(members []*downloadable.Item) snapshot {
	var s snapshot
	s.members = append(s.members, members...)
	sortItems(s.members)
	for _, m := range members {
		if m.Downloading() {
			s.downloading = true
		}
		if m.HasLocalFile() {
			s.hasFile = true
			s.files = append(s.files, m.LocalPath())
			s.withFile = append(s.withFile, m)
		}
		if m.Updatable() {
			s.updatable = true
			if size := m.RemoteSize(); size > 0 {
				s.updateSize.Bytes += size
			} else {
				s.updateSize.Unknown++
			}
		}
	}
	sort.Strings(s.files)
	sortItems(s.withFile)
	return s
}

func sortItems(items []*downloadable.Item) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Section() != items[j].Section() {
			return items[i].Section() < items[j].Section()
		}
		return items[i].ObjectName() < items[j].ObjectName()
	})
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalItems(a, b []*downloadable.Item) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
