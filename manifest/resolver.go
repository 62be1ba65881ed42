package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/chazu/deobby/pkg/classpath"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("deobby.manifest")

// JDKAuto selects the JDK named by $JAVA_HOME.
const JDKAuto = "auto"

// ResolvedClasspath is the host class library a run resolves types against.
type ResolvedClasspath struct {
	Library classpath.Library
	Entries []string // absolute entry paths, in lookup order

	cache   *classpath.Cache
	closers []func() error
}

// Close saves the index cache and releases open archives.
func (rc *ResolvedClasspath) Close() error {
	var errs []error
	if rc.cache != nil {
		if err := rc.cache.Save(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range rc.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Resolver turns the [classpath] section into a class library.
type Resolver struct {
	manifest *Manifest
	getenv   func(string) string
}

// NewResolver creates a classpath resolver for m.
func NewResolver(m *Manifest) *Resolver {
	return &Resolver{manifest: m, getenv: os.Getenv}
}

// Entries expands the configured entries and appends the JDK's. Globs are
// matched relative to the manifest directory; a glob matching nothing is
// skipped with a warning, a literal path that does not exist is an error.
func (r *Resolver) Entries() ([]string, error) {
	var entries []string
	seen := make(map[string]bool)
	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			entries = append(entries, path)
		}
	}

	for _, pattern := range r.manifest.Classpath.Entries {
		abs := r.manifest.Abs(pattern)
		if !hasMeta(pattern) {
			if _, err := os.Stat(abs); err != nil {
				return nil, fmt.Errorf("classpath entry %q not found at %s: %w", pattern, abs, err)
			}
			add(abs)
			continue
		}
		matches, err := filepath.Glob(abs)
		if err != nil {
			return nil, fmt.Errorf("invalid classpath pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			log.Warningf("classpath pattern %q matches nothing", pattern)
		}
		sort.Strings(matches)
		for _, match := range matches {
			add(match)
		}
	}

	home, err := r.jdkHome()
	if err != nil {
		return nil, err
	}
	if home != "" {
		jdk, err := classpath.JDKEntries(home)
		if err != nil {
			return nil, err
		}
		for _, e := range jdk {
			add(e)
		}
	}
	return entries, nil
}

func (r *Resolver) jdkHome() (string, error) {
	switch jdk := r.manifest.Classpath.JDK; jdk {
	case "":
		return "", nil
	case JDKAuto:
		home := r.getenv("JAVA_HOME")
		if home == "" {
			log.Warning("jdk = \"auto\" but JAVA_HOME is not set; using the builtin core types only")
		}
		return home, nil
	default:
		return r.manifest.Abs(jdk), nil
	}
}

func hasMeta(pattern string) bool {
	for _, c := range pattern {
		switch c {
		case '*', '?', '[', '\\':
			return true
		}
	}
	return false
}

// Resolve opens every entry and returns the combined library. The caller
// must Close the result.
func (r *Resolver) Resolve() (*ResolvedClasspath, error) {
	entries, err := r.Entries()
	if err != nil {
		return nil, err
	}

	var cache *classpath.Cache
	if path := r.manifest.CachePath(); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
		if cache, err = classpath.OpenCache(path); err != nil {
			return nil, err
		}
	}

	lib, closers, err := classpath.Load(entries, cache)
	rc := &ResolvedClasspath{Entries: entries, cache: cache, closers: closers}
	if err != nil {
		rc.cache = nil
		rc.Close()
		return nil, err
	}
	rc.Library = classpath.Memoize(lib)
	log.Infof("classpath: %d entries", len(entries))
	return rc, nil
}
