package prompts

import (
	"fmt"
	"strings"
	"text/template"
)

// Builder renders prompts from a Set. Stateless after construction and safe
// for concurrent use: templates are parsed once at build time.
type Builder struct {
	templates map[string]*template.Template
}

// NewBuilder parses every template in the set. A template that fails to parse
// is a configuration error surfaced here, before any run starts.
func NewBuilder(set Set) (*Builder, error) {
	parsed := make(map[string]*template.Template, len(set))
	for name, src := range set {
		t, err := template.New(name).Option("missingkey=error").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("failed to parse prompt %q: %w", name, err)
		}
		parsed[name] = t
	}
	return &Builder{templates: parsed}, nil
}

// Render executes the named template with the given data.
func (b *Builder) Render(name string, data any) (string, error) {
	t, ok := b.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt %q", name)
	}
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render prompt %q: %w", name, err)
	}
	return sb.String(), nil
}
