package classpath

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// JDKEntries returns the classpath entries of the JDK installed at home:
// the jmods of a modular JDK, or rt.jar for older layouts.
func JDKEntries(home string) ([]string, error) {
	mods, err := filepath.Glob(filepath.Join(home, "jmods", "*.jmod"))
	if err != nil {
		return nil, err
	}
	if len(mods) > 0 {
		sort.Strings(mods)
		return mods, nil
	}
	for _, rt := range []string{
		filepath.Join(home, "jre", "lib", "rt.jar"),
		filepath.Join(home, "lib", "rt.jar"),
	} {
		if _, err := os.Stat(rt); err == nil {
			return []string{rt}, nil
		}
	}
	return nil, fmt.Errorf("classpath: no jmods or rt.jar under %s", home)
}

// Load builds a Library from classpath entries, consulted in order and
// backed by the builtin table. With a nil cache, archives are read lazily.
func Load(entries []string, cache *Cache) (Library, []func() error, error) {
	var chain Chain
	var closers []func() error
	for _, path := range entries {
		if cache != nil {
			lib, err := cache.Load(path)
			if err != nil {
				return nil, closers, fmt.Errorf("classpath: %s: %w", path, err)
			}
			chain = append(chain, lib)
			continue
		}
		a, err := Open(path)
		if err != nil {
			return nil, closers, fmt.Errorf("classpath: %s: %w", path, err)
		}
		chain = append(chain, a)
		closers = append(closers, a.Close)
	}
	chain = append(chain, Builtin())
	return chain, closers, nil
}
