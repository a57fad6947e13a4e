package language

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/isdmx/coderun/config"
)

// Override replaces fields of a descriptor. Empty fields are left unchanged.
type Override struct {
	Key         string            `yaml:"key"`
	DisplayName string            `yaml:"display_name"`
	Extension   string            `yaml:"extension"`
	Image       string            `yaml:"image"`
	Command     string            `yaml:"command"`
	Environment map[string]string `yaml:"environment"`
}

type catalogFile struct {
	Languages []Override `yaml:"languages"`
}

// LoadCatalog decodes a YAML catalog of the form
//
//	languages:
//	  - key: rb
//	    display_name: Ruby
//	    extension: .rb
//	    image: ruby:3.3-slim
//	    command: ruby {file}
func LoadCatalog(r io.Reader) ([]Override, error) {
	var f catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	for i, o := range f.Languages {
		if o.Key == "" {
			return nil, fmt.Errorf("catalog entry %d: key is required", i)
		}
	}
	return f.Languages, nil
}

// LoadCatalogFile reads a YAML catalog from path.
func LoadCatalogFile(path string) ([]Override, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// Apply merges overrides into base. Unknown keys add a new language and must
// then specify every field.
func Apply(base []Descriptor, overrides ...Override) ([]Descriptor, error) {
	out := make([]Descriptor, len(base))
	copy(out, base)
	index := make(map[string]int, len(out))
	for i, d := range out {
		index[d.Key] = i
	}

	for _, o := range overrides {
		i, exists := index[o.Key]
		var d Descriptor
		if exists {
			d = out[i]
		} else {
			d = Descriptor{Key: o.Key}
		}

		if o.DisplayName != "" {
			d.DisplayName = o.DisplayName
		}
		if o.Extension != "" {
			d.Extension = o.Extension
		}
		if o.Image != "" {
			d.Image = o.Image
		}
		if o.Command != "" {
			cmd, err := ParseCommand(o.Command)
			if err != nil {
				return nil, fmt.Errorf("language %s: %w", o.Key, err)
			}
			d.Command = cmd
		}
		if len(o.Environment) > 0 {
			env := copyEnv(d.Env)
			for k, v := range o.Environment {
				// viper lower-cases map keys; environment names are upper case by convention.
				env[strings.ToUpper(k)] = v
			}
			d.Env = env
		}

		if err := d.validate(); err != nil {
			return nil, err
		}
		if exists {
			out[i] = d
		} else {
			index[d.Key] = len(out)
			out = append(out, d)
		}
	}
	return out, nil
}

// NewRegistryFromConfig builds the registry from the built-in catalog, the
// optional catalog file and the per-language overrides in cfg, in that order.
func NewRegistryFromConfig(cfg *config.Config) (*Registry, error) {
	descriptors := Defaults()

	if cfg.Sandbox.CatalogFile != "" {
		entries, err := LoadCatalogFile(cfg.Sandbox.CatalogFile)
		if err != nil {
			return nil, err
		}
		if descriptors, err = Apply(descriptors, entries...); err != nil {
			return nil, err
		}
	}

	overrides := make([]Override, 0, len(cfg.Languages))
	for key, l := range cfg.Languages {
		overrides = append(overrides, Override{
			Key:         key,
			DisplayName: l.DisplayName,
			Extension:   l.Extension,
			Image:       l.Image,
			Command:     l.Command,
			Environment: l.Environment,
		})
	}
	descriptors, err := Apply(descriptors, overrides...)
	if err != nil {
		return nil, err
	}

	return NewRegistry(descriptors...)
}
