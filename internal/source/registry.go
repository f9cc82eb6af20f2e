// Package source holds the immutable table of content sources and the
// interaction scripts that coax each one into loading its player.
package source

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"text/template"

	"github.com/JakeFAU/bytewatch/internal/stream"
)

// ErrUnsupportedKind is returned when a source has no template for a kind.
var ErrUnsupportedKind = errors.New("source does not support content kind")

// Spec is the configuration form of a source.
type Spec struct {
	Name      string `mapstructure:"name"`
	Label     string `mapstructure:"label"`
	MovieURL  string `mapstructure:"movie_url"`
	SeriesURL string `mapstructure:"series_url"`
	Disabled  bool   `mapstructure:"disabled"`
	Steps     []Step `mapstructure:"steps"`
}

// Descriptor is a validated source ready for use by sessions.
type Descriptor struct {
	Name   string
	Label  string
	Script []Step

	movie  *template.Template
	series *template.Template
}

// urlData is the data available to URL templates.
type urlData struct {
	ID        string
	PrimaryID string
	Season    int
	Episode   int
}

var templateFuncs = template.FuncMap{"query": url.QueryEscape}

// Supports reports whether the source has a template for kind.
func (d Descriptor) Supports(kind stream.Kind) bool {
	switch kind {
	case stream.KindMovie:
		return d.movie != nil
	case stream.KindSeries:
		return d.series != nil
	}
	return false
}

// URL renders the landing page URL for key using the resolved secondary id.
func (d Descriptor) URL(key stream.ContentKey, secondaryID string) (string, error) {
	tmpl := d.movie
	if key.Kind == stream.KindSeries {
		tmpl = d.series
	}
	if tmpl == nil {
		return "", fmt.Errorf("%s: %w %q", d.Name, ErrUnsupportedKind, key.Kind)
	}
	var sb strings.Builder
	data := urlData{ID: secondaryID, PrimaryID: key.PrimaryID, Season: key.Season, Episode: key.Episode}
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("%s: render url: %w", d.Name, err)
	}
	return sb.String(), nil
}

// Registry is the ordered, read-only set of enabled sources.
type Registry struct {
	descriptors []Descriptor
}

// New validates specs and builds a Registry. Disabled specs are dropped;
// declaration order is kept.
func New(specs []Spec) (*Registry, error) {
	seen := make(map[string]struct{}, len(specs))
	reg := &Registry{}
	for i, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return nil, fmt.Errorf("source %d: name is required", i)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("source %q declared twice", name)
		}
		seen[name] = struct{}{}
		if spec.Disabled {
			continue
		}
		desc, err := compile(name, spec)
		if err != nil {
			return nil, err
		}
		reg.descriptors = append(reg.descriptors, desc)
	}
	if len(reg.descriptors) == 0 {
		return nil, errors.New("no enabled sources")
	}
	return reg, nil
}

func compile(name string, spec Spec) (Descriptor, error) {
	desc := Descriptor{Name: name, Label: spec.Label}
	if desc.Label == "" {
		desc.Label = name
	}
	if spec.MovieURL == "" && spec.SeriesURL == "" {
		return Descriptor{}, fmt.Errorf("source %q: at least one url template is required", name)
	}
	var err error
	if desc.movie, err = parseTemplate(name+"/movie", spec.MovieURL); err != nil {
		return Descriptor{}, err
	}
	if desc.series, err = parseTemplate(name+"/series", spec.SeriesURL); err != nil {
		return Descriptor{}, err
	}
	desc.Script = make([]Step, len(spec.Steps))
	for i, step := range spec.Steps {
		if err := step.Validate(); err != nil {
			return Descriptor{}, fmt.Errorf("source %q step %d: %w", name, i, err)
		}
		desc.Script[i] = step
	}
	return desc, nil
}

func parseTemplate(name, text string) (*template.Template, error) {
	if text == "" {
		return nil, nil
	}
	tmpl, err := template.New(name).Funcs(templateFuncs).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("source %s: parse url template: %w", name, err)
	}
	return tmpl, nil
}

// Descriptors returns the sources in declaration order. The slice is a copy.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// Len returns the number of enabled sources.
func (r *Registry) Len() int { return len(r.descriptors) }

// Lookup finds a source by name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	for _, d := range r.descriptors {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}
