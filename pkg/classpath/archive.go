package classpath

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/chazu/deobby/pkg/classfile"
)

// jmodMagic prefixes the zip payload of a .jmod file.
var jmodMagic = []byte("JM\x01\x00")

// ErrUnsupported is returned by Open for a path that is neither a
// directory nor a jar, zip or jmod archive.
var ErrUnsupported = errors.New("classpath: unsupported entry")

// Archive is a Library backed by a jar, jmod or class directory. Classes
// are parsed on first lookup, without their code.
type Archive struct {
	path   string
	prefix string
	closer io.Closer
	zip    *zip.Reader
	files  map[string]*zip.File
	dir    string

	mu     sync.Mutex
	parsed map[string]*TypeInfo
}

// Open opens a classpath entry.
func Open(path string) (*Archive, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		log.Debugf("classpath: directory %s", path)
		return &Archive{path: path, dir: path, parsed: make(map[string]*TypeInfo)}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	a, err := openArchive(path, f, st.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	a.closer = f
	return a, nil
}

func openArchive(path string, r io.ReaderAt, size int64) (*Archive, error) {
	a := &Archive{path: path, parsed: make(map[string]*TypeInfo)}

	head := make([]byte, len(jmodMagic))
	if _, err := r.ReadAt(head, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	switch {
	case bytes.Equal(head, jmodMagic):
		off := int64(len(jmodMagic))
		r = io.NewSectionReader(r, off, size-off)
		size -= off
		a.prefix = "classes/"
	case strings.HasSuffix(path, ".jar"), strings.HasSuffix(path, ".zip"):
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, path)
	}

	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	a.zip = zr
	a.files = make(map[string]*zip.File)
	for _, f := range zr.File {
		name, ok := strings.CutPrefix(f.Name, a.prefix)
		if !ok || !strings.HasSuffix(name, ".class") || f.FileInfo().IsDir() {
			continue
		}
		name = strings.TrimSuffix(name, ".class")
		if name == "module-info" || strings.HasPrefix(name, "META-INF/") {
			continue
		}
		a.files[name] = f
	}
	log.Debugf("classpath: %s holds %d classes", path, len(a.files))
	return a, nil
}

// Path returns the path the archive was opened from.
func (a *Archive) Path() string { return a.path }

// Close releases the underlying file.
func (a *Archive) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// Names lists the class names in the archive, sorted. For a directory
// the tree is walked.
func (a *Archive) Names() ([]string, error) {
	var names []string
	if a.zip != nil {
		names = make([]string, 0, len(a.files))
		for name := range a.files {
			names = append(names, name)
		}
	} else {
		err := filepath.WalkDir(a.dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(p, ".class") {
				return nil
			}
			rel, err := filepath.Rel(a.dir, p)
			if err != nil {
				return err
			}
			names = append(names, strings.TrimSuffix(filepath.ToSlash(rel), ".class"))
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(names)
	return names, nil
}

func (a *Archive) Lookup(name string) (*TypeInfo, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.parsed[name]; ok {
		return t, t != nil
	}
	t, err := a.load(name)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warningf("classpath: %s: %s: %v", a.path, name, err)
		}
		t = nil
	}
	a.parsed[name] = t
	return t, t != nil
}

func (a *Archive) load(name string) (*TypeInfo, error) {
	var data []byte
	if a.zip != nil {
		f, ok := a.files[name]
		if !ok {
			return nil, fs.ErrNotExist
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		if data, err = io.ReadAll(rc); err != nil {
			return nil, err
		}
	} else {
		var err error
		data, err = os.ReadFile(filepath.Join(a.dir, filepath.FromSlash(name)+".class"))
		if err != nil {
			return nil, err
		}
	}
	return Describe(data)
}

// Describe parses a class file header into a TypeInfo.
func Describe(data []byte) (*TypeInfo, error) {
	c, err := classfile.ParseWithOptions(data, classfile.ParseOptions{SkipCode: true})
	if err != nil {
		return nil, err
	}
	return FromClass(c), nil
}

// FromClass extracts the TypeInfo of a parsed class.
func FromClass(c *classfile.Class) *TypeInfo {
	t := &TypeInfo{
		Name:        c.Name,
		Super:       c.Super,
		Interfaces:  append([]string(nil), c.Interfaces...),
		IsInterface: c.Access.IsInterface(),
	}
	for _, m := range c.Methods {
		t.Methods = append(t.Methods, m.Name+m.Desc)
	}
	return t
}

// Snapshot parses every class in the archive into an Index. Classes that
// fail to parse are skipped with a warning.
func Snapshot(a *Archive) (*Index, error) {
	names, err := a.Names()
	if err != nil {
		return nil, err
	}
	types := make([]*TypeInfo, 0, len(names))
	for _, name := range names {
		if t, ok := a.Lookup(name); ok {
			types = append(types, t)
		}
	}
	return NewIndex(types...), nil
}
