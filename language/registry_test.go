package language

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isdmx/coderun/config"
)

func TestDefaults(t *testing.T) {
	reg, err := NewRegistry(Defaults()...)
	require.NoError(t, err)

	assert.Equal(t, []string{"c", "cpp", "java", "js", "py", "ts"}, reg.Keys())

	tests := []struct {
		key       string
		extension string
		argv      []string
	}{
		{"js", ".js", []string{"node", "code-1.js"}},
		{"py", ".py", []string{"python", "-u", "code-1.py"}},
		{"java", ".java", []string{"java", "code-1.java"}},
		{"cpp", ".cpp", []string{"sh", "-c", `g++ -std=c++17 -O2 -o main "$1" && ./main`, "sh", "code-1.cpp"}},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			d, err := reg.Resolve(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.extension, d.Extension)
			assert.NotEmpty(t, d.Image)
			assert.Equal(t, tt.argv, d.Command("code-1"+tt.extension))
		})
	}
}

func TestResolveUnsupported(t *testing.T) {
	reg, err := NewRegistry(Defaults()...)
	require.NoError(t, err)

	_, err = reg.Resolve("cobol")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedLanguage))
	assert.Contains(t, err.Error(), `"cobol"`)
}

func TestResolveReturnsCopy(t *testing.T) {
	reg, err := NewRegistry(Defaults()...)
	require.NoError(t, err)

	d, err := reg.Resolve("py")
	require.NoError(t, err)
	d.Env["PYTHONDONTWRITEBYTECODE"] = "0"

	again, err := reg.Resolve("py")
	require.NoError(t, err)
	assert.Equal(t, "1", again.Env["PYTHONDONTWRITEBYTECODE"])
}

func TestRegistryConcurrentReads(t *testing.T) {
	reg, err := NewRegistry(Defaults()...)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, k := range reg.Keys() {
				_, err := reg.Resolve(k)
				assert.NoError(t, err)
			}
			assert.Len(t, reg.List(), 6)
		}()
	}
	wg.Wait()
}

func TestNewRegistryValidation(t *testing.T) {
	cmd := mustParseCommand("run {file}")

	t.Run("Duplicate", func(t *testing.T) {
		d := Descriptor{Key: "x", Extension: ".x", Image: "img", Command: cmd}
		_, err := NewRegistry(d, d)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate language key")
	})

	t.Run("MissingImage", func(t *testing.T) {
		_, err := NewRegistry(Descriptor{Key: "x", Extension: ".x", Command: cmd})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "image is required")
	})

	t.Run("BadExtension", func(t *testing.T) {
		_, err := NewRegistry(Descriptor{Key: "x", Extension: "x", Image: "img", Command: cmd})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "extension must start with '.'")
	})

	t.Run("DisplayNameDefaultsToKey", func(t *testing.T) {
		reg, err := NewRegistry(Descriptor{Key: "x", Extension: ".x", Image: "img", Command: cmd})
		require.NoError(t, err)
		assert.Equal(t, []Info{{Key: "x", Name: "x", Extension: ".x"}}, reg.List())
	})
}

func TestDescriptorEnviron(t *testing.T) {
	d := Descriptor{Env: map[string]string{"B": "2", "A": "1"}}
	assert.Equal(t, []string{"A=1", "B=2"}, d.Environ())
}

func TestParseCommand(t *testing.T) {
	t.Run("QuotedWordsStayIntact", func(t *testing.T) {
		fn, err := ParseCommand(`sh -c 'cc "$1" && ./a.out' sh {file}`)
		require.NoError(t, err)
		assert.Equal(t, []string{"sh", "-c", `cc "$1" && ./a.out`, "sh", "a b;rm -rf.c"}, fn("a b;rm -rf.c"))
	})

	t.Run("PlaceholderInsideWord", func(t *testing.T) {
		fn, err := ParseCommand("tool --src={file}")
		require.NoError(t, err)
		assert.Equal(t, []string{"tool", "--src=main.x"}, fn("main.x"))
	})

	t.Run("MissingPlaceholder", func(t *testing.T) {
		_, err := ParseCommand("python main.py")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not reference {file}")
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := ParseCommand("   ")
		require.Error(t, err)
	})

	t.Run("UnterminatedQuote", func(t *testing.T) {
		_, err := ParseCommand(`sh -c 'echo {file}`)
		require.Error(t, err)
	})
}

func TestLoadCatalog(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		entries, err := LoadCatalog(strings.NewReader(`
languages:
  - key: rb
    display_name: Ruby
    extension: .rb
    image: ruby:3.3-slim
    command: ruby {file}
  - key: py
    image: python:3.12-slim
`))
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "rb", entries[0].Key)
		assert.Equal(t, "python:3.12-slim", entries[1].Image)
	})

	t.Run("Empty", func(t *testing.T) {
		entries, err := LoadCatalog(strings.NewReader(""))
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("UnknownField", func(t *testing.T) {
		_, err := LoadCatalog(strings.NewReader("languages:\n  - key: rb\n    shell: bash\n"))
		require.Error(t, err)
	})

	t.Run("MissingKey", func(t *testing.T) {
		_, err := LoadCatalog(strings.NewReader("languages:\n  - image: ruby\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "key is required")
	})
}

func TestApply(t *testing.T) {
	t.Run("OverrideExisting", func(t *testing.T) {
		out, err := Apply(Defaults(), Override{Key: "py", Image: "python:3.12-slim", Environment: map[string]string{"pythonpath": "/sandbox"}})
		require.NoError(t, err)

		reg, err := NewRegistry(out...)
		require.NoError(t, err)
		d, err := reg.Resolve("py")
		require.NoError(t, err)
		assert.Equal(t, "python:3.12-slim", d.Image)
		assert.Equal(t, ".py", d.Extension)
		assert.Equal(t, "/sandbox", d.Env["PYTHONPATH"])
		assert.Equal(t, "1", d.Env["PYTHONDONTWRITEBYTECODE"])
	})

	t.Run("AddNew", func(t *testing.T) {
		out, err := Apply(Defaults(), Override{Key: "rb", DisplayName: "Ruby", Extension: ".rb", Image: "ruby:3.3-slim", Command: "ruby {file}"})
		require.NoError(t, err)
		assert.Len(t, out, len(Defaults())+1)
	})

	t.Run("IncompleteNew", func(t *testing.T) {
		_, err := Apply(Defaults(), Override{Key: "rb", Image: "ruby:3.3-slim"})
		require.Error(t, err)
	})

	t.Run("BadCommand", func(t *testing.T) {
		_, err := Apply(Defaults(), Override{Key: "py", Command: "python main.py"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "language py")
	})
}

func TestNewRegistryFromConfig(t *testing.T) {
	dir := t.TempDir()
	catalog := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(catalog, []byte(`
languages:
  - key: rb
    display_name: Ruby
    extension: .rb
    image: ruby:3.3-slim
    command: ruby {file}
`), 0o600))

	cfg := &config.Config{
		Sandbox: config.SandboxConfig{CatalogFile: catalog},
		Languages: map[string]config.Language{
			"rb": {Image: "ruby:3.4-slim"},
			"js": {Command: "node --max-old-space-size=128 {file}"},
		},
	}

	reg, err := NewRegistryFromConfig(cfg)
	require.NoError(t, err)

	rb, err := reg.Resolve("rb")
	require.NoError(t, err)
	assert.Equal(t, "ruby:3.4-slim", rb.Image)
	assert.Equal(t, []string{"ruby", "x.rb"}, rb.Command("x.rb"))

	js, err := reg.Resolve("js")
	require.NoError(t, err)
	assert.Equal(t, []string{"node", "--max-old-space-size=128", "x.js"}, js.Command("x.js"))

	t.Run("MissingCatalogFile", func(t *testing.T) {
		_, err := NewRegistryFromConfig(&config.Config{Sandbox: config.SandboxConfig{CatalogFile: filepath.Join(dir, "nope.yaml")}})
		require.Error(t, err)
	})
}
