package classpath

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/BurntSushi/toml"
)

//go:embed jdk.toml
var jdkTable string

var (
	builtinOnce  sync.Once
	builtinIndex *Index
)

// Builtin returns the core JDK types bundled with the tool. It is the
// fallback when no JDK is configured.
func Builtin() *Index {
	builtinOnce.Do(func() {
		idx, err := ParseTable(jdkTable)
		if err != nil {
			panic(fmt.Sprintf("classpath: bad builtin table: %v", err))
		}
		builtinIndex = idx
	})
	return builtinIndex
}

// ParseTable reads a TOML type table: a list of [[type]] tables with the
// TypeInfo fields.
func ParseTable(data string) (*Index, error) {
	var doc struct {
		Types []*TypeInfo `toml:"type"`
	}
	md, err := toml.Decode(data, &doc)
	if err != nil {
		return nil, err
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		return nil, fmt.Errorf("unknown key %q", undec[0].String())
	}
	for i, t := range doc.Types {
		if t.Name == "" {
			return nil, fmt.Errorf("type #%d has no name", i+1)
		}
		if t.Super == "" && t.Name != "java/lang/Object" {
			t.Super = "java/lang/Object"
		}
	}
	return NewIndex(doc.Types...), nil
}
