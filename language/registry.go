package language

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnsupportedLanguage is returned when a key has no descriptor.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Descriptor describes how to run source code of one language.
type Descriptor struct {
	Key         string
	DisplayName string
	Extension   string
	Image       string
	Env         map[string]string
	// Command builds the argv that compiles and runs filename inside the sandbox.
	Command func(filename string) []string
}

// Info is the catalog view of a Descriptor.
type Info struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	Extension string `json:"extension"`
}

// Environ returns the descriptor environment as sorted KEY=VALUE pairs.
func (d Descriptor) Environ() []string {
	env := make([]string, 0, len(d.Env))
	for k, v := range d.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

func (d Descriptor) validate() error {
	switch {
	case d.Key == "":
		return errors.New("language key is required")
	case !strings.HasPrefix(d.Extension, "."):
		return fmt.Errorf("language %s: extension must start with '.', got %q", d.Key, d.Extension)
	case d.Image == "":
		return fmt.Errorf("language %s: image is required", d.Key)
	case d.Command == nil:
		return fmt.Errorf("language %s: command is required", d.Key)
	}
	return nil
}

// Registry is an immutable set of language descriptors. It is safe for
// concurrent use.
type Registry struct {
	byKey map[string]Descriptor
	keys  []string
}

// NewRegistry builds a registry. Keys must be unique.
func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{byKey: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if err := d.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byKey[d.Key]; dup {
			return nil, fmt.Errorf("duplicate language key: %s", d.Key)
		}
		if d.DisplayName == "" {
			d.DisplayName = d.Key
		}
		d.Env = copyEnv(d.Env)
		r.byKey[d.Key] = d
		r.keys = append(r.keys, d.Key)
	}
	sort.Strings(r.keys)
	return r, nil
}

// Resolve returns the descriptor for key.
func (r *Registry) Resolve(key string) (Descriptor, error) {
	d, ok := r.byKey[key]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, key)
	}
	d.Env = copyEnv(d.Env)
	return d, nil
}

// Keys returns the supported language keys in sorted order.
func (r *Registry) Keys() []string {
	return append([]string(nil), r.keys...)
}

// List returns the catalog entries sorted by key.
func (r *Registry) List() []Info {
	out := make([]Info, 0, len(r.keys))
	for _, k := range r.keys {
		d := r.byKey[k]
		out = append(out, Info{Key: d.Key, Name: d.DisplayName, Extension: d.Extension})
	}
	return out
}

func copyEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}
