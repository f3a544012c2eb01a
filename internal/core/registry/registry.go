// Package registry holds the static catalog of conversion engines.
package registry

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/tomd/internal/core/domain"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type catalogFile struct {
	Converters []domain.ConverterDescriptor `yaml:"converters"`
}

// Registry is immutable after construction and safe for concurrent use.
type Registry struct {
	ordered  []domain.ConverterDescriptor
	byID     map[domain.ConverterID]int
	fallback domain.ConverterID
}

// Default loads the embedded catalog.
func Default() (*Registry, error) {
	return Parse(defaultCatalog)
}

// MustDefault panics when the embedded catalog is broken.
func MustDefault() *Registry {
	r, err := Default()
	if err != nil {
		panic(err)
	}
	return r
}

func Parse(raw []byte) (*Registry, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode converter catalog: %w", err)
	}
	return New(file.Converters, domain.ConverterMarkitdown)
}

func New(descriptors []domain.ConverterDescriptor, fallback domain.ConverterID) (*Registry, error) {
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("converter catalog is empty")
	}
	r := &Registry{
		ordered:  make([]domain.ConverterDescriptor, 0, len(descriptors)),
		byID:     make(map[domain.ConverterID]int, len(descriptors)),
		fallback: fallback,
	}
	for _, d := range descriptors {
		if d.ID == "" || d.ID == domain.ConverterAuto || d.ID == domain.ConverterCustom {
			return nil, fmt.Errorf("invalid converter id %q", d.ID)
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate converter id %q", d.ID)
		}
		exts := make([]string, 0, len(d.SupportedExtensions))
		for _, ext := range d.SupportedExtensions {
			exts = append(exts, strings.ToLower(strings.TrimPrefix(ext, ".")))
		}
		d.SupportedExtensions = exts
		r.byID[d.ID] = len(r.ordered)
		r.ordered = append(r.ordered, d)
	}
	if _, ok := r.byID[fallback]; !ok {
		return nil, fmt.Errorf("fallback converter %q missing from catalog", fallback)
	}
	return r, nil
}

func (r *Registry) List() []domain.ConverterDescriptor {
	out := make([]domain.ConverterDescriptor, len(r.ordered))
	for i, d := range r.ordered {
		d.SupportedExtensions = append([]string(nil), d.SupportedExtensions...)
		out[i] = d
	}
	return out
}

func (r *Registry) Get(id domain.ConverterID) (domain.ConverterDescriptor, bool) {
	idx, ok := r.byID[id]
	if !ok {
		return domain.ConverterDescriptor{}, false
	}
	return r.ordered[idx], true
}

// Resolve maps a requested converter to a concrete engine. A concrete id is
// returned as is, without checking the extension against its catalog entry.
func (r *Registry) Resolve(extension string, requested domain.ConverterID) (domain.ConverterDescriptor, error) {
	switch requested {
	case domain.ConverterAuto, "":
		return r.auto(extension), nil
	case domain.ConverterCustom:
		return domain.ConverterDescriptor{}, domain.WrapError(domain.ErrInvalidInput, "resolve converter", fmt.Errorf("custom selection requires overrides"))
	}
	d, ok := r.Get(requested)
	if !ok {
		return domain.ConverterDescriptor{}, domain.WrapError(domain.ErrInvalidInput, "resolve converter", fmt.Errorf("unknown converter %q", requested))
	}
	return d, nil
}

// ResolveCustom applies a per-extension override, falling back to auto.
func (r *Registry) ResolveCustom(extension string, overrides map[string]domain.ConverterID) (domain.ConverterDescriptor, error) {
	normalized, err := domain.NormalizeOverrides(overrides)
	if err != nil {
		return domain.ConverterDescriptor{}, err
	}
	ext := strings.ToLower(strings.TrimPrefix(extension, "."))
	id, ok := normalized[ext]
	if !ok || id == domain.ConverterAuto || id == domain.ConverterCustom {
		return r.auto(ext), nil
	}
	return r.Resolve(ext, id)
}

func (r *Registry) auto(extension string) domain.ConverterDescriptor {
	ext := strings.ToLower(strings.TrimPrefix(extension, "."))
	for _, d := range r.ordered {
		if d.Supports(ext) {
			return d
		}
	}
	d, _ := r.Get(r.fallback)
	return d
}
