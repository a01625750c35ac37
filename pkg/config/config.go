// Package config loads named store profiles from a YAML file, so the CLI
// and embedding services can switch backends without changing flags.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile names one backend and its options.
type Profile struct {
	// URL selects the backend, e.g. s3://bucket or file:///var/objects.
	URL string `yaml:"url"`
	// Options carries backend-specific configuration keys.
	Options map[string]string `yaml:"options,omitempty"`
}

// File is the on-disk profile set.
type File struct {
	// DefaultProfile names the profile used when none is requested.
	DefaultProfile string `yaml:"default_profile,omitempty"`
	// Profiles maps profile names to their backend settings.
	Profiles map[string]Profile `yaml:"profiles"`
}

// Load reads and validates a profile file.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a profile file from memory.
func Parse(raw []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(f.Profiles) == 0 {
		return nil, fmt.Errorf("config declares no profiles")
	}
	for name, p := range f.Profiles {
		if p.URL == "" {
			return nil, fmt.Errorf("profile %q has no url", name)
		}
	}
	if f.DefaultProfile != "" {
		if _, ok := f.Profiles[f.DefaultProfile]; !ok {
			return nil, fmt.Errorf("default profile %q not declared", f.DefaultProfile)
		}
	}
	return &f, nil
}

// Resolve returns the named profile, or the default when name is empty.
func (f *File) Resolve(name string) (Profile, error) {
	if name == "" {
		name = f.DefaultProfile
	}
	if name == "" {
		if len(f.Profiles) == 1 {
			for _, p := range f.Profiles {
				return p, nil
			}
		}
		return Profile{}, fmt.Errorf("no profile requested and no default set")
	}
	p, ok := f.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile %q", name)
	}
	return p, nil
}
