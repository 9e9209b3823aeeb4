// Package catalog resolves a display slot's configured media source into a
// concrete ordered sequence of playable file paths.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/tpersp/piviewer/store"
	"github.com/tpersp/piviewer/util"
)

var (
	// ErrEmptyCatalog means the current selection matched no playable files.
	// Recoverable: the slot goes idle and retries on the next refresh.
	ErrEmptyCatalog = errors.New("no playable media for current selection")
	// ErrFileNotFound means a specific-image selector names a file that is
	// not in the folder listing.
	ErrFileNotFound = errors.New("file not found")
	// ErrFolderNotFound means a selector names a folder that does not exist.
	ErrFolderNotFound = errors.New("folder not found")
)

// Lister enumerates the media library. Implementations return file paths in
// name order and report ErrFolderNotFound for missing folders.
type Lister interface {
	// ListFiles returns the playable files directly inside folder, sorted by
	// name. An empty folder name lists the library root itself.
	ListFiles(folder string) ([]string, error)
	// ListFolders returns the folder names directly under the library root,
	// sorted by name.
	ListFolders() ([]string, error)
}

// Feed supplies the dynamic item for now-playing slots, re-fetched on every
// advance instead of from the filesystem.
type Feed interface {
	// Current returns the path of the artwork for the currently playing
	// track.
	Current(ctx context.Context) (string, error)
}

// Sequence is the result of resolving a slot config.
type Sequence struct {
	// Items is the ordered list of file paths. Empty when Dynamic.
	Items []string
	// Dynamic marks a sequence whose single item is re-fetched from the
	// external feed on each advance.
	Dynamic bool
}

// Resolver turns slot configs into sequences. It holds no per-slot state;
// caching and shuffle permutations are owned by each slot.
type Resolver struct {
	lister Lister
}

func NewResolver(lister Lister) *Resolver {
	return &Resolver{lister: lister}
}

// Resolve produces the ordered sequence for cfg. Shuffling is left to the
// caller so the permutation can stay stable across repeated resolutions.
func (r *Resolver) Resolve(cfg store.SlotConfig) (Sequence, error) {
	switch cfg.Mode {
	case store.ModeRandomImage:
		items, err := r.resolveCategory(cfg.Category)
		if err != nil {
			return Sequence{}, err
		}
		return Sequence{Items: items}, nil

	case store.ModeMixed:
		var items []string
		for _, folder := range cfg.MixedFolders {
			files, err := r.lister.ListFiles(folder)
			if err != nil {
				// A folder removed mid-session contributes nothing; the
				// remaining folders keep the slot alive.
				if errors.Is(err, ErrFolderNotFound) {
					continue
				}
				return Sequence{}, err
			}
			items = append(items, files...)
		}
		if len(items) == 0 {
			return Sequence{}, fmt.Errorf("mixed folders %v: %w", cfg.MixedFolders, ErrEmptyCatalog)
		}
		return Sequence{Items: items}, nil

	case store.ModeSpecificImage:
		files, err := r.lister.ListFiles(cfg.Category)
		if err != nil {
			return Sequence{}, err
		}
		for _, f := range files {
			if filepath.Base(f) == cfg.SpecificFile {
				return Sequence{Items: []string{f}}, nil
			}
		}
		return Sequence{}, fmt.Errorf("%q in category %q: %w", cfg.SpecificFile, cfg.Category, ErrFileNotFound)

	case store.ModeNowPlaying:
		return Sequence{Dynamic: true}, nil

	default:
		return Sequence{}, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}

// resolveCategory lists one folder, or the whole library in name order when
// the category is empty.
func (r *Resolver) resolveCategory(category string) ([]string, error) {
	if category != "" {
		items, err := r.lister.ListFiles(category)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("category %q: %w", category, ErrEmptyCatalog)
		}
		return items, nil
	}

	items, err := r.lister.ListFiles("")
	if err != nil && !errors.Is(err, ErrFolderNotFound) {
		return nil, err
	}
	folders, err := r.lister.ListFolders()
	if err != nil && !errors.Is(err, ErrFolderNotFound) {
		return nil, err
	}
	for _, folder := range folders {
		files, err := r.lister.ListFiles(folder)
		if err != nil {
			if errors.Is(err, ErrFolderNotFound) {
				continue
			}
			return nil, err
		}
		items = append(items, files...)
	}
	sort.Strings(items)
	if len(items) == 0 {
		return nil, ErrEmptyCatalog
	}
	return items, nil
}

// ValidateSelector rejects configs whose active selector points at a missing
// folder or file, before any slot state mutates. An empty-but-existing folder
// is accepted; that slot will simply idle until media shows up.
func (r *Resolver) ValidateSelector(cfg store.SlotConfig) error {
	switch cfg.Mode {
	case store.ModeRandomImage:
		if cfg.Category == "" {
			return nil
		}
		_, err := r.lister.ListFiles(cfg.Category)
		return err

	case store.ModeMixed:
		for _, folder := range cfg.MixedFolders {
			if _, err := r.lister.ListFiles(folder); err != nil {
				return err
			}
		}
		return nil

	case store.ModeSpecificImage:
		_, err := r.Resolve(cfg)
		return err

	case store.ModeNowPlaying:
		return nil

	default:
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}

// DirLister lists a media library rooted at a single directory, one level of
// category folders deep, exactly how the upload layout is organized.
type DirLister struct {
	root string
}

func NewDirLister(root string) *DirLister {
	return &DirLister{root: root}
}

func (l *DirLister) ListFiles(folder string) ([]string, error) {
	dir := l.root
	if folder != "" {
		dir = filepath.Join(l.root, folder)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%q: %w", folder, ErrFolderNotFound)
		}
		return nil, fmt.Errorf("unable to read directory %q: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !util.SupportedExt.Contains(filepath.Ext(name)) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

func (l *DirLister) ListFolders() ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("library root %q: %w", l.root, ErrFolderNotFound)
		}
		return nil, fmt.Errorf("unable to read library root %q: %w", l.root, err)
	}

	var folders []string
	for _, entry := range entries {
		if entry.IsDir() {
			folders = append(folders, entry.Name())
		}
	}
	sort.Strings(folders)
	return folders, nil
}
