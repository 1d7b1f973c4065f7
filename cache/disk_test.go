package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestSanitizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://repo.packagist.org", "https---repo.packagist.org"},
		{"https://example.com:8080/path?q=1", "https---example.com-8080-path-q-1"},
		{"Plain.Name_1", "Plain.Name-1"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SanitizeURL(tt.in); got != tt.want {
				t.Errorf("SanitizeURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRepoCache_Layout(t *testing.T) {
	root := t.TempDir()
	dc, err := RepoCache(root, "https://repo.packagist.org")
	if err != nil {
		t.Fatalf("RepoCache() error = %v", err)
	}

	want := filepath.Join(root, "https---repo.packagist.org", "provider-symfony-symfony.json")
	if got := dc.Path("provider-symfony$symfony.json"); got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}
	if got := dc.Path("packages_root.json"); !strings.HasSuffix(got, "packages_root.json") {
		t.Errorf("Path() should keep underscores, got %q", got)
	}
}

func TestDiskCache_WriteRead(t *testing.T) {
	dc, err := NewDiskCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskCache() error = %v", err)
	}

	if _, ok := dc.Read("packages.json"); ok {
		t.Fatal("Read() on empty cache should miss")
	}
	if dc.Exists("packages.json") {
		t.Fatal("Exists() on empty cache should be false")
	}

	data := []byte(`{"packages":{}}`)
	if err := dc.Write("packages.json", data); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, ok := dc.Read("packages.json")
	if !ok {
		t.Fatal("Read() expected cache hit")
	}
	if string(got) != string(data) {
		t.Errorf("Read() = %s, want %s", got, data)
	}
	if !dc.Exists("packages.json") {
		t.Error("Exists() should be true after Write")
	}
}

func TestDiskCache_AtomicUpdate(t *testing.T) {
	dc, err := NewDiskCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskCache() error = %v", err)
	}

	if err := dc.Write("atomic", []byte("version 1")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := dc.Write("atomic", []byte("version 2")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, _ := dc.Read("atomic")
	if string(got) != "version 2" {
		t.Errorf("Read() = %s, want version 2", got)
	}

	entries, err := os.ReadDir(dc.Root())
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), tempSuffix) {
			t.Errorf("temporary file %s should be cleaned up", e.Name())
		}
	}
}

func TestDiskCache_ConcurrentWrites(t *testing.T) {
	dc, err := NewDiskCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskCache() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = dc.Write("concurrent", fmt.Appendf(nil, "version %d", n))
		}(i)
	}
	wg.Wait()

	got, ok := dc.Read("concurrent")
	if !ok {
		t.Fatal("Read() expected cache hit")
	}
	if !strings.HasPrefix(string(got), "version ") {
		t.Errorf("Read() = %q, want a complete entry", got)
	}
}

func TestDiskCache_DeleteClear(t *testing.T) {
	root := filepath.Join(t.TempDir(), "repo")
	dc, err := NewDiskCache(root)
	if err != nil {
		t.Fatalf("NewDiskCache() error = %v", err)
	}

	_ = dc.Write("a", []byte("1"))
	_ = dc.Write("b", []byte("2"))

	if err := dc.Delete("a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if dc.Exists("a") {
		t.Error("a should be deleted")
	}
	if err := dc.Delete("missing"); err != nil {
		t.Errorf("Delete() of a missing key error = %v", err)
	}

	if err := dc.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Error("Clear() should remove the cache directory")
	}
}

func TestNewDiskCache_InvalidPath(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewDiskCache(filepath.Join(file, "sub")); err == nil {
		t.Error("NewDiskCache() under a regular file should fail")
	}
}

func TestEnvelope(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		data, err := EncodeEnvelope([]byte(`{"packages":[]}`), map[string]string{"Last-Modified": "Mon, 01 Jan 2024 00:00:00 GMT"})
		if err != nil {
			t.Fatalf("EncodeEnvelope() error = %v", err)
		}
		env, err := DecodeEnvelope(data)
		if err != nil {
			t.Fatalf("DecodeEnvelope() error = %v", err)
		}
		if env.Body != `{"packages":[]}` {
			t.Errorf("Body = %q", env.Body)
		}
		if env.LastModified() != "Mon, 01 Jan 2024 00:00:00 GMT" {
			t.Errorf("LastModified() = %q", env.LastModified())
		}
	})

	t.Run("bare document", func(t *testing.T) {
		env, err := DecodeEnvelope([]byte(` {"packages":{"a/b":{}}} `))
		if err != nil {
			t.Fatalf("DecodeEnvelope() error = %v", err)
		}
		if env.Body != `{"packages":{"a/b":{}}}` || env.LastModified() != "" {
			t.Errorf("DecodeEnvelope() = %+v", env)
		}
	})

	t.Run("corrupt", func(t *testing.T) {
		for _, in := range []string{"", "{not json", `{"body":"x","headers":[1]}`} {
			if _, err := DecodeEnvelope([]byte(in)); err == nil {
				t.Errorf("DecodeEnvelope(%q) should fail", in)
			}
		}
	})
}
