package ota

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/backkem/matter-bdx/pkg/bdx"
	"github.com/backkem/matter-bdx/pkg/clusters/otaprovider"
	"github.com/fsnotify/fsnotify"
	"github.com/pion/logging"
)

// ImageExtension marks the files a Catalog indexes.
const ImageExtension = ".ota"

// CatalogConfig configures a Catalog.
type CatalogConfig struct {
	// Dir holds the image files. Required.
	Dir string

	// Verify hashes every payload while scanning and skips images whose
	// digest does not match.
	Verify bool

	// LoggerFactory for catalog logging. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Entry is one indexed image file.
type Entry struct {
	// Designator is the file name, used as the BDX file designator.
	Designator string
	Path       string
	Prefix     Prefix
	Header     Header
	ModTime    time.Time
}

// Catalog indexes the OTA images in a directory and answers QueryImage
// lookups. Safe for concurrent use.
type Catalog struct {
	dir    string
	verify bool
	log    logging.LeveledLogger

	mu      sync.RWMutex
	entries map[string]Entry

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewCatalog creates a catalog and scans its directory once.
func NewCatalog(config CatalogConfig) (*Catalog, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("ota: catalog directory is required")
	}
	c := &Catalog{
		dir:     config.Dir,
		verify:  config.Verify,
		entries: make(map[string]Entry),
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("ota")
	}
	if err := c.Scan(); err != nil {
		return nil, err
	}
	return c, nil
}

// Dir returns the catalog directory.
func (c *Catalog) Dir() string { return c.dir }

// Scan re-reads the directory. Files that fail to parse are logged and
// left out.
func (c *Catalog) Scan() error {
	dirents, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("ota: scan %s: %w", c.dir, err)
	}

	entries := make(map[string]Entry, len(dirents))
	for _, de := range dirents {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ImageExtension) {
			continue
		}
		e, err := c.load(de.Name())
		if err != nil {
			if c.log != nil {
				c.log.Warnf("skipping image %s: %v", de.Name(), err)
			}
			continue
		}
		entries[e.Designator] = e
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()

	if c.log != nil {
		c.log.Debugf("catalog %s: %d images", c.dir, len(entries))
	}
	return nil
}

func (c *Catalog) load(name string) (Entry, error) {
	path := filepath.Join(c.dir, name)
	f, err := os.Open(path)
	if err != nil {
		return Entry{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Entry{}, err
	}
	p, h, err := ReadHeader(f)
	if err != nil {
		return Entry{}, err
	}
	if uint64(info.Size()) != p.TotalSize {
		return Entry{}, fmt.Errorf("%w: file %d bytes, header says %d", ErrSizeMismatch, info.Size(), p.TotalSize)
	}
	if c.verify {
		if err := VerifyPayload(h, f); err != nil {
			return Entry{}, err
		}
	}
	return Entry{
		Designator: name,
		Path:       path,
		Prefix:     p,
		Header:     h,
		ModTime:    info.ModTime(),
	}, nil
}

// Entries returns the indexed images ordered by designator.
func (c *Catalog) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Designator < out[j].Designator })
	return out
}

// Entry returns the image with the given designator.
func (c *Catalog) Entry(designator string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[designator]
	return e, ok
}

// LookupImage implements otaprovider.ImageSource. It returns the newest image
// for the requestor's vendor and product that is newer than its current
// version and applicable over it.
func (c *Catalog) LookupImage(q otaprovider.ImageQuery) (otaprovider.Image, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var best *Entry
	for _, e := range c.entries {
		h := &e.Header
		if h.VendorID != q.VendorID || h.ProductID != q.ProductID {
			continue
		}
		if h.SoftwareVersion <= q.SoftwareVersion || !h.Applies(q.SoftwareVersion) {
			continue
		}
		if best == nil || h.SoftwareVersion > best.Header.SoftwareVersion {
			e := e
			best = &e
		}
	}
	if best == nil {
		return otaprovider.Image{}, otaprovider.ErrNoImage
	}
	return otaprovider.Image{
		FileDesignator:        best.Designator,
		SoftwareVersion:       best.Header.SoftwareVersion,
		SoftwareVersionString: best.Header.SoftwareVersionString,
		Size:                  best.Prefix.TotalSize,
	}, nil
}

// Open opens the image file named by designator.
func (c *Catalog) Open(designator string) (*os.File, Entry, error) {
	if err := checkDesignator(designator); err != nil {
		return nil, Entry{}, err
	}
	e, ok := c.Entry(designator)
	if !ok {
		return nil, Entry{}, fmt.Errorf("%w: %s", otaprovider.ErrUnknownFile, designator)
	}
	f, err := os.Open(e.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Entry{}, fmt.Errorf("%w: %s", otaprovider.ErrUnknownFile, designator)
		}
		return nil, Entry{}, err
	}
	return f, e, nil
}

// checkDesignator accepts plain file names only.
func checkDesignator(designator string) error {
	if designator == "" || len(designator) > bdx.MaxFileDesignatorLength {
		return fmt.Errorf("%w: length %d", ErrInvalidDesignator, len(designator))
	}
	if designator != filepath.Base(designator) || strings.ContainsAny(designator, `/\`) || designator == "." || designator == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidDesignator, designator)
	}
	return nil
}

// Watch rescans the directory whenever an image file changes, until Close.
func (c *Catalog) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("ota: create watcher: %w", err)
	}
	if err := watcher.Add(c.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("ota: watch %s: %w", c.dir, err)
	}

	c.mu.Lock()
	if c.watcher != nil {
		c.mu.Unlock()
		_ = watcher.Close()
		return fmt.Errorf("ota: catalog already watching")
	}
	c.watcher = watcher
	c.done = make(chan struct{})
	c.mu.Unlock()

	c.wg.Add(1)
	go c.watchLoop(watcher, c.done)
	return nil
}

func (c *Catalog) watchLoop(watcher *fsnotify.Watcher, done chan struct{}) {
	defer c.wg.Done()
	for {
		select {
		case <-done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ImageExtension) {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if c.log != nil {
				c.log.Debugf("image %s changed (%s), rescanning", filepath.Base(event.Name), event.Op)
			}
			if err := c.Scan(); err != nil && c.log != nil {
				c.log.Warnf("rescan: %v", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if c.log != nil {
				c.log.Warnf("watch %s: %v", c.dir, err)
			}
		}
	}
}

// Close stops watching. The catalog stays usable for lookups.
func (c *Catalog) Close() error {
	c.mu.Lock()
	watcher, done := c.watcher, c.done
	c.watcher, c.done = nil, nil
	c.mu.Unlock()
	if watcher == nil {
		return nil
	}
	close(done)
	err := watcher.Close()
	c.wg.Wait()
	return err
}

// Verify Catalog implements otaprovider.ImageSource.
var _ otaprovider.ImageSource = (*Catalog)(nil)
