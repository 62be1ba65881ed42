package classpath

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/deobby/pkg/classfile"
)

func classBytes(t *testing.T, name, super string, itf bool, ifaces ...string) []byte {
	t.Helper()
	access := classfile.AccPublic | classfile.AccSuper
	if itf {
		access = classfile.AccPublic | classfile.AccInterface | classfile.AccAbstract
	}
	c := classfile.NewClass(52, access, name, super)
	c.Interfaces = ifaces
	c.Methods = append(c.Methods, classfile.NewMethod(classfile.AccPublic|classfile.AccAbstract, "run", "()V"))
	data, err := classfile.Encode(c, nil)
	if err != nil {
		t.Fatalf("Encode(%s) failed: %v", name, err)
	}
	return data
}

func writeJar(t *testing.T, path, prefix string, header []byte, classes map[string][]byte) {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(header)
	zw := zip.NewWriter(&buf)
	for name, data := range classes {
		w, err := zw.Create(prefix + name + ".class")
		if err != nil {
			t.Fatal(err)
		}
		w.Write(data)
	}
	if w, err := zw.Create("META-INF/MANIFEST.MF"); err == nil {
		w.Write([]byte("Manifest-Version: 1.0\n"))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestBuiltinKnowsCoreTypes(t *testing.T) {
	lib := Builtin()
	tests := []struct {
		name  string
		super string
		itf   bool
	}{
		{"java/lang/Object", "", false},
		{"java/lang/RuntimeException", "java/lang/Exception", false},
		{"java/lang/NegativeArraySizeException", "java/lang/RuntimeException", false},
		{"java/util/ArrayList", "java/util/AbstractList", false},
		{"java/util/List", "java/lang/Object", true},
		{"java/lang/Integer", "java/lang/Number", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ti, ok := lib.Lookup(tt.name)
			if !ok {
				t.Fatalf("Lookup(%s) missed", tt.name)
			}
			if ti.Super != tt.super || ti.IsInterface != tt.itf {
				t.Errorf("got super=%q interface=%v, want %q %v", ti.Super, ti.IsInterface, tt.super, tt.itf)
			}
		})
	}
	obj, _ := lib.Lookup("java/lang/Object")
	if !obj.Declares("hashCode()I") {
		t.Error("Object does not declare hashCode()I")
	}
	if _, ok := lib.Lookup("com/example/Missing"); ok {
		t.Error("unknown type resolved")
	}
}

func TestParseTableRejectsUnknownKeys(t *testing.T) {
	if _, err := ParseTable("[[type]]\nname = \"a/B\"\nsuperclass = \"x\"\n"); err == nil {
		t.Error("unknown key accepted")
	}
	if _, err := ParseTable("[[type]]\nsuper = \"x\"\n"); err == nil {
		t.Error("nameless type accepted")
	}
	idx, err := ParseTable("[[type]]\nname = \"a/B\"\n")
	if err != nil {
		t.Fatal(err)
	}
	if b, _ := idx.Lookup("a/B"); b.Super != "java/lang/Object" {
		t.Errorf("default super = %q", b.Super)
	}
}

func TestChainFirstHitWins(t *testing.T) {
	first := NewIndex(&TypeInfo{Name: "a/A", Super: "a/First"})
	second := NewIndex(&TypeInfo{Name: "a/A", Super: "a/Second"}, &TypeInfo{Name: "a/B"})
	c := Chain{first, second}

	if a, _ := c.Lookup("a/A"); a.Super != "a/First" {
		t.Errorf("a/A super = %q, want a/First", a.Super)
	}
	if _, ok := c.Lookup("a/B"); !ok {
		t.Error("a/B not found in second library")
	}
	if _, ok := c.Lookup("a/C"); ok {
		t.Error("a/C found")
	}
}

type countingLibrary struct {
	Library
	calls int
}

func (c *countingLibrary) Lookup(name string) (*TypeInfo, bool) {
	c.calls++
	return c.Library.Lookup(name)
}

func TestMemoizeCachesMisses(t *testing.T) {
	inner := &countingLibrary{Library: NewIndex(&TypeInfo{Name: "a/A"})}
	lib := Memoize(inner)
	for i := 0; i < 3; i++ {
		lib.Lookup("a/A")
		lib.Lookup("a/Missing")
	}
	if inner.calls != 2 {
		t.Errorf("inner lookups = %d, want 2", inner.calls)
	}
}

func TestArchiveJar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.jar")
	writeJar(t, path, "", nil, map[string][]byte{
		"lib/Task": classBytes(t, "lib/Task", "java/lang/Object", true),
		"lib/Impl": classBytes(t, "lib/Impl", "java/lang/Object", false, "lib/Task"),
	})

	a, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer a.Close()

	names, err := a.Names()
	if err != nil || len(names) != 2 || names[0] != "lib/Impl" {
		t.Fatalf("Names() = %v, %v", names, err)
	}
	impl, ok := a.Lookup("lib/Impl")
	if !ok {
		t.Fatal("lib/Impl not found")
	}
	if impl.IsInterface || len(impl.Interfaces) != 1 || impl.Interfaces[0] != "lib/Task" {
		t.Errorf("lib/Impl = %+v", impl)
	}
	if !impl.Declares("run()V") {
		t.Error("run()V not recorded")
	}
	if task, _ := a.Lookup("lib/Task"); !task.IsInterface {
		t.Error("lib/Task is not an interface")
	}
}

func TestArchiveJmod(t *testing.T) {
	path := filepath.Join(t.TempDir(), "java.base.jmod")
	writeJar(t, path, "classes/", jmodMagic, map[string][]byte{
		"java/lang/Thing": classBytes(t, "java/lang/Thing", "java/lang/Object", false),
	})

	a, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer a.Close()
	if _, ok := a.Lookup("java/lang/Thing"); !ok {
		t.Error("class under classes/ not found")
	}
}

func TestArchiveDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "p"), 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "p", "C.class"), classBytes(t, "p/C", "java/lang/Exception", false), 0o644)
	os.WriteFile(filepath.Join(dir, "p", "Broken.class"), []byte{0xCA, 0xFE}, 0o644)

	a, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if c, ok := a.Lookup("p/C"); !ok || c.Super != "java/lang/Exception" {
		t.Errorf("p/C = %+v, %v", c, ok)
	}
	if _, ok := a.Lookup("p/Broken"); ok {
		t.Error("truncated class resolved")
	}
	if _, ok := a.Lookup("p/Absent"); ok {
		t.Error("absent class resolved")
	}
}

func TestOpenRejectsUnknownFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	os.WriteFile(path, []byte("hello"), 0o644)
	if _, err := Open(path); err == nil {
		t.Error("Open accepted a text file")
	}
}

func TestCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	jar := filepath.Join(dir, "lib.jar")
	writeJar(t, jar, "", nil, map[string][]byte{
		"lib/A": classBytes(t, "lib/A", "java/lang/Object", false),
	})
	cachePath := filepath.Join(dir, "cache", "index.cbor")

	c, err := OpenCache(cachePath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Load(jar); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := c.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reopened, err := OpenCache(cachePath)
	if err != nil {
		t.Fatal(err)
	}
	if len(reopened.file.Entries) != 1 {
		t.Fatalf("cache holds %d entries, want 1", len(reopened.file.Entries))
	}
	lib, err := reopened.Load(jar)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := lib.Lookup("lib/A"); !ok {
		t.Error("lib/A missing after reload")
	}
	if reopened.dirty {
		t.Error("cache hit marked the cache dirty")
	}
}

func TestCacheDiscardsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.cbor")
	os.WriteFile(path, []byte("not cbor"), 0o644)
	c, err := OpenCache(path)
	if err != nil {
		t.Fatalf("OpenCache failed: %v", err)
	}
	if len(c.file.Entries) != 0 {
		t.Error("garbage produced cache entries")
	}
}

func TestJDKEntries(t *testing.T) {
	home := t.TempDir()
	if _, err := JDKEntries(home); err == nil {
		t.Error("empty home accepted")
	}
	os.MkdirAll(filepath.Join(home, "jre", "lib"), 0o755)
	os.WriteFile(filepath.Join(home, "jre", "lib", "rt.jar"), nil, 0o644)
	entries, err := JDKEntries(home)
	if err != nil || len(entries) != 1 {
		t.Fatalf("JDKEntries = %v, %v", entries, err)
	}
	os.MkdirAll(filepath.Join(home, "jmods"), 0o755)
	os.WriteFile(filepath.Join(home, "jmods", "java.base.jmod"), nil, 0o644)
	if entries, _ := JDKEntries(home); len(entries) != 1 || filepath.Base(entries[0]) != "java.base.jmod" {
		t.Errorf("modular layout not preferred: %v", entries)
	}
}
