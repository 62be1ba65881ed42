package program

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chazu/deobby/pkg/classfile"
)

// EncodeError reports a class that could not be serialized.
type EncodeError struct {
	Class string
	Input string
	Err   error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encoding %s.class in %s: %v", e.Class, e.Input, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// Open reads a class file or a jar/zip archive of class files.
func Open(path string, opts Options) (*Program, error) {
	opts = opts.withDefaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".class":
		return openClass(path, opts)
	case ".jar", ".zip":
		return openArchive(path, opts)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedInput, path)
}

func openClass(path string, opts Options) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := classfile.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p, err := New(opts, c)
	if err != nil {
		return nil, err
	}
	p.path = path
	return p, nil
}

func openArchive(path string, opts Options) (*Program, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	p, err := New(opts)
	if err != nil {
		return nil, err
	}
	p.path = path
	p.archive = true

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			p.resources = append(p.resources, f.Name)
			continue
		}
		data, err := readEntry(f, opts.MaxResourceSize)
		if err != nil {
			return nil, fmt.Errorf("%s in %s: %w", f.Name, path, err)
		}
		if !classfile.IsClassFile(data) {
			p.resources = append(p.resources, f.Name)
			continue
		}
		c, err := classfile.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s in %s: %w", f.Name, path, err)
		}
		if err := p.Add(c); err != nil {
			return nil, fmt.Errorf("%s in %s: %w", f.Name, path, err)
		}
		if err := normalize(c); err != nil {
			return nil, fmt.Errorf("%s in %s: %w", f.Name, path, err)
		}
	}
	log.Infof("read %d classes and %d resources from %s", len(p.classes), len(p.resources), path)
	return p, nil
}

func readEntry(f *zip.File, limit int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("entry exceeds %d bytes", limit)
	}
	return data, nil
}

// Resources returns the names of the non-class archive entries.
func (p *Program) Resources() []string { return p.resources }

// Write serializes the program to out, or back over its input when out is
// empty. A lone class from a class file is written as a class file; anything
// else becomes a jar. The returned path is where the output landed.
func (p *Program) Write(out string) (string, error) {
	if out == "" {
		out = p.path
	}
	if out == "" {
		return "", fmt.Errorf("program: no output path")
	}

	h := p.Hierarchy()
	encoded := make(map[string][]byte, len(p.classes))
	for _, c := range p.Classes() {
		data, err := classfile.Encode(c, h)
		if err != nil {
			return "", &EncodeError{Class: c.Name, Input: p.path, Err: err}
		}
		encoded[c.Name] = data
	}

	if !p.archive && len(encoded) == 1 {
		c := p.Classes()[0]
		dest := singleClassPath(out, c)
		return dest, writeAtomic(dest, func(w io.Writer) error {
			_, err := w.Write(encoded[c.Name])
			return err
		})
	}
	return out, writeAtomic(out, func(w io.Writer) error {
		return p.writeJar(w, encoded)
	})
}

func singleClassPath(out string, c *classfile.Class) string {
	if strings.HasSuffix(out, ".deob.class") {
		return out
	}
	if _, err := os.Stat(out); err == nil {
		return filepath.Join(filepath.Dir(out), c.SimpleName()+".deob.class")
	}
	return out
}

func (p *Program) writeJar(w io.Writer, encoded map[string][]byte) error {
	zw := zip.NewWriter(w)

	names := make([]string, 0, len(encoded))
	for name := range encoded {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fw, err := zw.Create(name + ".class")
		if err != nil {
			return err
		}
		if _, err := fw.Write(encoded[name]); err != nil {
			return err
		}
	}

	if len(p.resources) > 0 {
		if err := p.copyResources(zw); err != nil {
			return err
		}
	}
	return zw.Close()
}

func (p *Program) copyResources(zw *zip.Writer) error {
	zr, err := zip.OpenReader(p.path)
	if err != nil {
		return err
	}
	defer zr.Close()

	wanted := make(map[string]bool, len(p.resources))
	for _, name := range p.resources {
		wanted[name] = true
	}
	for _, f := range zr.File {
		if !wanted[f.Name] {
			continue
		}
		hdr := f.FileHeader
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: hdr.Name, Method: hdr.Method, Modified: hdr.Modified, Comment: hdr.Comment})
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			continue
		}
		data, err := readEntry(f, p.opts.MaxResourceSize)
		if err != nil {
			return fmt.Errorf("copying %s from %s: %w", f.Name, p.path, err)
		}
		if _, err := fw.Write(data); err != nil {
			return err
		}
	}
	return nil
}

// writeAtomic writes through a temporary file in path's directory, so a
// failed write never leaves partial output behind.
func writeAtomic(path string, fill func(io.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".deobby-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := fill(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
