package classpath

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// cacheVersion is bumped whenever TypeInfo changes shape.
const cacheVersion = 1

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("classpath: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type cacheFile struct {
	Version int                    `cbor:"1,keyasint"`
	Entries map[string]*cacheEntry `cbor:"2,keyasint,omitempty"`
}

// cacheEntry is the snapshot of one classpath entry. Size and modification
// time decide whether it is still valid.
type cacheEntry struct {
	Size    int64       `cbor:"1,keyasint"`
	ModTime int64       `cbor:"2,keyasint"`
	Types   []*TypeInfo `cbor:"3,keyasint,omitempty"`
}

// Cache persists the type information of large classpath entries such as
// JDK modules, so they are parsed once rather than on every run.
type Cache struct {
	path string

	mu    sync.Mutex
	file  cacheFile
	dirty bool
}

// OpenCache loads the cache at path. A missing, unreadable or outdated
// file yields an empty cache; it is rewritten on Save.
func OpenCache(path string) (*Cache, error) {
	c := &Cache{path: path, file: cacheFile{Version: cacheVersion, Entries: map[string]*cacheEntry{}}}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, err
	}

	var f cacheFile
	if err := cbor.Unmarshal(data, &f); err != nil {
		log.Warningf("classpath: discarding cache %s: %v", path, err)
		return c, nil
	}
	if f.Version != cacheVersion {
		log.Infof("classpath: cache %s has version %d, rebuilding", path, f.Version)
		return c, nil
	}
	if f.Entries != nil {
		c.file = f
	}
	return c, nil
}

// Load returns a Library for the classpath entry at path, from the cache
// when the entry is unchanged and by snapshotting it otherwise.
func (c *Cache) Load(path string) (Library, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	e, ok := c.file.Entries[abs]
	c.mu.Unlock()
	if ok && !st.IsDir() && e.Size == st.Size() && e.ModTime == st.ModTime().UnixNano() {
		log.Debugf("classpath: cache hit for %s", abs)
		return NewIndex(e.Types...), nil
	}

	a, err := Open(abs)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	idx, err := Snapshot(a)
	if err != nil {
		return nil, err
	}
	// Directories change without touching their own metadata.
	if st.IsDir() {
		return idx, nil
	}

	c.mu.Lock()
	c.file.Entries[abs] = &cacheEntry{Size: st.Size(), ModTime: st.ModTime().UnixNano(), Types: idx.Types()}
	c.dirty = true
	c.mu.Unlock()
	return idx, nil
}

// Save writes the cache back if anything changed.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}
	data, err := cborEncMode.Marshal(&c.file)
	if err != nil {
		return fmt.Errorf("classpath: marshal cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return err
	}
	c.dirty = false
	return nil
}
