// Package library provides durable storage of named signal assets grouped
// into category folders.
//
// Each asset is a payload file on disk plus a metadata entry in a single
// metadata.json index at the library root. The in-memory index is a cache
// over those two; Load reconciles it against the filesystem so a crash
// between writing a payload and persisting metadata is recoverable rather
// than permanently inconsistent.
package library

import (
	"encoding/json"
	"errors"
	"hash/fnv"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hydraremote/hydra-agent/subghz"
)

const (
	metadataFileName = "metadata.json"
	payloadExt       = ".sub"
	lockStripes      = 16
)

// DefaultCategories are created when a library root is first opened.
var DefaultCategories = []string{"automotive", "garage", "security", "industrial", "custom"}

// Asset is the metadata of one stored signal.
type Asset struct {
	Name       string    `json:"name"`
	Category   string    `json:"category"`
	Created    time.Time `json:"created"`
	Tags       []string  `json:"tags,omitempty"`
	File       string    `json:"file"` // payload filename within the category folder
	Frequency  float64   `json:"frequency,omitempty"`
	Modulation string    `json:"modulation,omitempty"`
	Protocol   string    `json:"protocol,omitempty"`
}

// Identity returns the asset's unique "category/name" identity.
func (a *Asset) Identity() string {
	return a.Category + "/" + a.Name
}

// LoadReport summarizes what Load reconciled. Recovered lists payloads that
// had no metadata and were registered with inferred metadata; Invalid lists
// metadata entries whose payload file is missing. Both are warnings, not
// fatal: the library stays usable with the valid subset.
type LoadReport struct {
	Assets    int      `json:"assets"`
	Recovered []string `json:"recovered,omitempty"`
	Invalid   []string `json:"invalid,omitempty"`
}

// Query selects assets by text, tags and frequency.
type Query struct {
	Text      string
	Tags      []string
	Frequency float64 // MHz; 0 means any
	Tolerance float64 // MHz; defaults to 0.1 when Frequency is set
}

// Library manages signal assets under a single root directory.
//
// Operations on distinct assets may run concurrently; operations on the
// same identity are serialized through striped locks so payload and
// metadata writes cannot tear.
type Library struct {
	root string

	mu    sync.RWMutex // guards index and metadata persistence
	index map[string]*Asset

	stripes [lockStripes]sync.Mutex
}

// Open prepares a library at root, creating the root and the default
// category folders when absent. Call Load afterwards to populate the index
// from disk.
func Open(root string) (*Library, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, NewStorageError("Open", err)
	}
	lib := &Library{
		root:  root,
		index: make(map[string]*Asset),
	}
	for _, cat := range DefaultCategories {
		if err := lib.CreateCategory(cat); err != nil {
			return nil, err
		}
	}
	return lib, nil
}

// Root returns the library root path.
func (l *Library) Root() string {
	return l.root
}

func validName(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, "/\\\x00")
}

func (l *Library) stripe(identity string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(identity))
	return &l.stripes[h.Sum32()%lockStripes]
}

// CreateCategory creates the category folder if absent. Idempotent;
// categories are never silently deleted.
func (l *Library) CreateCategory(name string) error {
	if !validName(name) {
		return NewInvalidIdentityError("CreateCategory", name)
	}
	if err := os.MkdirAll(filepath.Join(l.root, name), 0o755); err != nil {
		return NewStorageError("CreateCategory", err)
	}
	return nil
}

// Categories returns category folder names present on disk, sorted.
func (l *Library) Categories() ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, NewStorageError("Categories", err)
	}
	var cats []string
	for _, e := range entries {
		if e.IsDir() {
			cats = append(cats, e.Name())
		}
	}
	sort.Strings(cats)
	return cats, nil
}

// AddAsset stores a payload under category/name with the given tags. The
// payload file is written first, then the metadata index is updated and
// persisted atomically; a crash between the two steps is recovered by
// Load's reconciliation.
func (l *Library) AddAsset(category, name string, payload []byte, tags []string) (*Asset, error) {
	if !validName(category) || !validName(name) {
		return nil, NewInvalidIdentityError("AddAsset", category+"/"+name)
	}
	if err := l.CreateCategory(category); err != nil {
		return nil, err
	}

	asset := &Asset{
		Name:     name,
		Category: category,
		Created:  time.Now().UTC(),
		Tags:     tags,
		File:     name + payloadExt,
	}

	// Payloads in the .sub format contribute searchable radio metadata;
	// anything else stays opaque.
	if sig, err := subghz.ParseSub(payload); err == nil {
		asset.Frequency = sig.Frequency
		asset.Modulation = string(sig.Modulation)
		asset.Protocol = sig.Protocol
	}

	identity := asset.Identity()
	stripe := l.stripe(identity)
	stripe.Lock()
	defer stripe.Unlock()

	payloadPath := filepath.Join(l.root, category, asset.File)
	if err := os.WriteFile(payloadPath, payload, 0o644); err != nil {
		return nil, NewStorageError("AddAsset", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.index[identity] = asset
	if err := l.persistLocked(); err != nil {
		// The payload is on disk but the index isn't; the next Load will
		// recover it as an orphan. Report the failure rather than hiding it.
		return nil, err
	}
	return asset, nil
}

// GetAsset returns the metadata and payload for identity, or a NotFound
// error.
func (l *Library) GetAsset(identity string) (*Asset, []byte, error) {
	l.mu.RLock()
	asset, ok := l.index[identity]
	l.mu.RUnlock()
	if !ok {
		return nil, nil, NewNotFoundError("GetAsset", identity)
	}

	stripe := l.stripe(identity)
	stripe.Lock()
	defer stripe.Unlock()

	payload, err := os.ReadFile(filepath.Join(l.root, asset.Category, asset.File))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, &LibraryError{
				Code:     ErrCodeInconsistent,
				Op:       "GetAsset",
				Identity: identity,
				Message:  "metadata present but payload file missing",
				Cause:    err,
			}
		}
		return nil, nil, NewStorageError("GetAsset", err)
	}
	return asset, payload, nil
}

// DeleteAsset removes both the payload file and the metadata entry. When
// only one half can be removed the result is a PartialDelete error naming
// what remains; it is never silently swallowed.
func (l *Library) DeleteAsset(identity string) error {
	l.mu.RLock()
	asset, ok := l.index[identity]
	l.mu.RUnlock()
	if !ok {
		return NewNotFoundError("DeleteAsset", identity)
	}

	stripe := l.stripe(identity)
	stripe.Lock()
	defer stripe.Unlock()

	payloadPath := filepath.Join(l.root, asset.Category, asset.File)
	payloadErr := os.Remove(payloadPath)
	if payloadErr != nil && errors.Is(payloadErr, fs.ErrNotExist) {
		// Already gone; metadata removal below restores consistency.
		payloadErr = nil
	}

	l.mu.Lock()
	delete(l.index, identity)
	metaErr := l.persistLocked()
	l.mu.Unlock()

	switch {
	case payloadErr != nil && metaErr != nil:
		return NewStorageError("DeleteAsset", errors.Join(payloadErr, metaErr))
	case payloadErr != nil:
		return NewPartialDeleteError("DeleteAsset", identity, "payload file", payloadErr)
	case metaErr != nil:
		return NewPartialDeleteError("DeleteAsset", identity, "metadata entry", metaErr)
	}
	return nil
}

// AssetsInCategory returns metadata for every indexed asset in category,
// sorted by name.
func (l *Library) AssetsInCategory(category string) []*Asset {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var assets []*Asset
	for _, a := range l.index {
		if a.Category == category {
			assets = append(assets, a)
		}
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Name < assets[j].Name })
	return assets
}

// Assets returns all indexed asset metadata, sorted by identity.
func (l *Library) Assets() []*Asset {
	l.mu.RLock()
	defer l.mu.RUnlock()
	assets := make([]*Asset, 0, len(l.index))
	for _, a := range l.index {
		assets = append(assets, a)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Identity() < assets[j].Identity() })
	return assets
}

// Search returns assets matching every criterion set on the query.
func (l *Library) Search(q Query) []*Asset {
	tolerance := q.Tolerance
	if tolerance == 0 {
		tolerance = 0.1
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	var results []*Asset
	for _, a := range l.index {
		if q.Text != "" {
			text := strings.ToLower(q.Text)
			if !strings.Contains(strings.ToLower(a.Name), text) &&
				!strings.Contains(strings.ToLower(a.Category), text) {
				continue
			}
		}
		if q.Frequency != 0 {
			diff := a.Frequency - q.Frequency
			if diff > tolerance || diff < -tolerance {
				continue
			}
		}
		if !containsAll(a.Tags, q.Tags) {
			continue
		}
		results = append(results, a)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Identity() < results[j].Identity() })
	return results
}

func containsAll(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Load rebuilds the index from disk: it reads metadata.json, scans every
// category folder for payload files, registers orphan payloads with
// inferred metadata and flags metadata entries whose payload is missing.
// Reconciliation issues are reported in the LoadReport, not fatal.
func (l *Library) Load() (*LoadReport, error) {
	stored, err := l.readMetadata()
	if err != nil {
		return nil, err
	}

	report := &LoadReport{}
	index := make(map[string]*Asset)
	invalid := make(map[string]*Asset)

	// Pass 1: validate stored entries against disk.
	for identity, asset := range stored {
		payloadPath := filepath.Join(l.root, asset.Category, asset.File)
		if _, statErr := os.Stat(payloadPath); statErr != nil {
			report.Invalid = append(report.Invalid, identity)
			invalid[identity] = asset
			log.Printf("Library: metadata for %s has no payload file, flagged invalid", identity)
			continue
		}
		index[identity] = asset
	}

	// Pass 2: register payload files that metadata doesn't know about.
	categories, err := l.Categories()
	if err != nil {
		return nil, err
	}
	recovered := false
	for _, category := range categories {
		entries, readErr := os.ReadDir(filepath.Join(l.root, category))
		if readErr != nil {
			return nil, NewStorageError("Load", readErr)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), payloadExt) {
				continue
			}
			name := strings.TrimSuffix(entry.Name(), payloadExt)
			identity := category + "/" + name
			if _, ok := index[identity]; ok {
				continue
			}

			asset := l.inferAsset(category, name, entry)
			index[identity] = asset
			recovered = true
			report.Recovered = append(report.Recovered, identity)
			log.Printf("Library: recovered orphan payload as %s", identity)
		}
	}

	sort.Strings(report.Recovered)
	sort.Strings(report.Invalid)
	report.Assets = len(index)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.index = index
	if recovered {
		// Persist the recovered entries so the next startup is clean.
		// Invalid entries stay in the file until the payload reappears or
		// the asset is deleted.
		fileMap := make(map[string]*Asset, len(index)+len(invalid))
		for id, a := range index {
			fileMap[id] = a
		}
		for id, a := range invalid {
			fileMap[id] = a
		}
		if err := l.persistMapLocked(fileMap); err != nil {
			return report, err
		}
	}
	return report, nil
}

// inferAsset builds minimal metadata for a payload discovered without an
// index entry.
func (l *Library) inferAsset(category, name string, entry fs.DirEntry) *Asset {
	asset := &Asset{
		Name:     name,
		Category: category,
		Created:  time.Now().UTC(),
		File:     name + payloadExt,
	}
	if info, err := entry.Info(); err == nil {
		asset.Created = info.ModTime().UTC()
	}
	if payload, err := os.ReadFile(filepath.Join(l.root, category, asset.File)); err == nil {
		if sig, parseErr := subghz.ParseSub(payload); parseErr == nil {
			asset.Frequency = sig.Frequency
			asset.Modulation = string(sig.Modulation)
			asset.Protocol = sig.Protocol
		}
	}
	return asset
}

// ImportDirectory bulk-imports payload files from dir into the library.
// Files land in a category named after their parent directory when that
// category already exists, otherwise in "custom". Files whose identity is
// already in the index are skipped, never overwritten. Returns the number
// of assets imported.
func (l *Library) ImportDirectory(dir string) (int, error) {
	categories, err := l.Categories()
	if err != nil {
		return 0, err
	}
	known := make(map[string]bool, len(categories))
	for _, c := range categories {
		known[c] = true
	}

	count := 0
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), payloadExt) {
			return nil
		}
		payload, readErr := os.ReadFile(path)
		if readErr != nil {
			log.Printf("Library: skipping unreadable import file %s: %v", path, readErr)
			return nil
		}

		name := strings.TrimSuffix(d.Name(), payloadExt)
		category := filepath.Base(filepath.Dir(path))
		if !known[category] {
			category = "custom"
		}
		identity := category + "/" + name
		l.mu.RLock()
		_, exists := l.index[identity]
		l.mu.RUnlock()
		if exists {
			log.Printf("Library: skipping import of %s: %s already stored", path, identity)
			return nil
		}
		if _, addErr := l.AddAsset(category, name, payload, nil); addErr != nil {
			log.Printf("Library: failed to import %s: %v", path, addErr)
			return nil
		}
		count++
		return nil
	})
	if walkErr != nil {
		return count, NewStorageError("ImportDirectory", walkErr)
	}
	return count, nil
}

// readMetadata loads the persisted metadata map, which may legitimately be
// absent on first run.
func (l *Library) readMetadata() (map[string]*Asset, error) {
	data, err := os.ReadFile(filepath.Join(l.root, metadataFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return make(map[string]*Asset), nil
		}
		return nil, NewStorageError("Load", err)
	}

	stored := make(map[string]*Asset)
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, &LibraryError{
			Code:    ErrCodeInconsistent,
			Op:      "Load",
			Message: "metadata file is corrupt",
			Cause:   err,
		}
	}
	return stored, nil
}

// persistLocked writes the metadata file atomically via temp file + rename.
// Callers must hold l.mu.
func (l *Library) persistLocked() error {
	return l.persistMapLocked(l.index)
}

func (l *Library) persistMapLocked(entries map[string]*Asset) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return NewStorageError("persist", err)
	}

	target := filepath.Join(l.root, metadataFileName)
	tmp, err := os.CreateTemp(l.root, metadataFileName+".tmp-*")
	if err != nil {
		return NewStorageError("persist", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return NewStorageError("persist", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return NewStorageError("persist", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return NewStorageError("persist", err)
	}
	return nil
}
