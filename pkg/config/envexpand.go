package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment variables in YAML content using Go templates
// with {{.VAR_NAME}} syntax. The template form avoids collisions with literal
// $ characters in regex patterns and passwords that a shell-style expansion
// would mangle.
//
// Missing variables expand to the empty string; validation catches required
// fields that end up empty. Content without template syntax passes through
// untouched, as does content that fails to parse as a template.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		if idx := strings.IndexByte(env, '='); idx > 0 {
			envMap[env[:idx]] = env[idx+1:]
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap); err != nil {
		return data
	}
	return buf.Bytes()
}
