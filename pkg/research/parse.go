package research

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// citationPattern matches candidate [N] markers; surrounding characters are
// checked separately because the counting rule excludes markers preceded by
// "]" (already-remapped pairs) or followed by "(" (markdown links).
var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// Citation is one accepted [N] marker.
type Citation struct {
	Start, End int
	N          int
}

// FindCitations returns every [N] marker in text where N is a positive
// integer, the marker is not preceded by "]", and not followed by "(".
func FindCitations(text string) []Citation {
	var out []Citation
	for _, m := range citationPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[0], m[1]
		if start > 0 && text[start-1] == ']' {
			continue
		}
		if end < len(text) && text[end] == '(' {
			continue
		}
		n, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil || n <= 0 {
			continue
		}
		out = append(out, Citation{Start: start, End: end, N: n})
	}
	return out
}

// CountCitations counts distinct citation numbers in text.
func CountCitations(text string) int {
	seen := map[int]bool{}
	for _, c := range FindCitations(text) {
		seen[c.N] = true
	}
	return len(seen)
}

// StripCitations removes every [N] marker. Applied to notes written with zero
// sources, where any marker the model emitted is a phantom.
func StripCitations(text string) string {
	cits := FindCitations(text)
	if len(cits) == 0 {
		return text
	}
	var sb strings.Builder
	prev := 0
	for _, c := range cits {
		sb.WriteString(text[prev:c.Start])
		prev = c.End
	}
	sb.WriteString(text[prev:])
	// Collapse the double spaces stripping leaves behind.
	return strings.ReplaceAll(sb.String(), "  ", " ")
}

var (
	numberingPrefix = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)]|\(\d+\))\s*`)
	fencedBlock     = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\n?(.*?)```")
)

// ParseQueryList interprets a model response as a list of search queries.
// Accepted shapes, in order: a JSON object with key "queries",
// "search_queries", or "query"; a JSON array; newline-separated lines; a
// single line split on ";" or "|". Numbering, bullets, and quotes are
// stripped; queries are deduplicated case-insensitively and trimmed to max.
func ParseQueryList(raw string, max int) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || max <= 0 {
		return nil
	}

	if qs := queryListFromJSON(raw); qs != nil {
		return cleanQueries(qs, max)
	}
	// Strip a fenced block and retry JSON.
	if m := fencedBlock.FindStringSubmatch(raw); m != nil {
		if qs := queryListFromJSON(strings.TrimSpace(m[1])); qs != nil {
			return cleanQueries(qs, max)
		}
	}

	lines := strings.Split(raw, "\n")
	var items []string
	for _, line := range lines {
		if s := strings.TrimSpace(line); s != "" {
			items = append(items, s)
		}
	}
	// A single line may pack queries with separators.
	if len(items) == 1 {
		for _, sep := range []string{";", "|"} {
			if strings.Contains(items[0], sep) {
				items = strings.Split(items[0], sep)
				break
			}
		}
	}
	return cleanQueries(items, max)
}

func queryListFromJSON(raw string) []string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		for _, key := range []string{"queries", "search_queries", "query"} {
			v, ok := obj[key]
			if !ok {
				continue
			}
			var list []string
			if err := json.Unmarshal(v, &list); err == nil {
				return list
			}
			var single string
			if err := json.Unmarshal(v, &single); err == nil {
				return []string{single}
			}
		}
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		return list
	}
	return nil
}

func cleanQueries(items []string, max int) []string {
	seen := map[string]bool{}
	var out []string
	for _, item := range items {
		q := numberingPrefix.ReplaceAllString(item, "")
		q = strings.Trim(strings.TrimSpace(q), `"'`)
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		key := strings.ToLower(q)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
		if len(out) == max {
			break
		}
	}
	return out
}

// TaskSpec is a follow-up task proposed by the model in notes metadata.
type TaskSpec struct {
	Topic       string `json:"topic"`
	Description string `json:"description"`
}

// TermSpec is a glossary entry proposed in notes metadata.
type TermSpec struct {
	Term       string `json:"term"`
	Definition string `json:"definition"`
}

// NotesMetadata is the optional trailing JSON block of a notes response.
type NotesMetadata struct {
	NewTasks      []TaskSpec `json:"new_tasks"`
	GlossaryTerms []TermSpec `json:"glossary_terms"`
}

// ExtractMetadata splits a notes response into (content, metadata). Strategy:
//  1. scan fenced blocks and take the last one that parses as JSON carrying
//     either metadata key, stripping it from the content;
//  2. otherwise scan backwards for a metadata key token, find its enclosing
//     "{", brace-count to the matching "}", and parse that span;
//  3. safety net: drop a trailing fenced block or trailing "{" line that
//     parses as JSON even without the keys (defends against malformed block
//     headers).
func ExtractMetadata(raw string) (string, NotesMetadata) {
	content := raw
	var meta NotesMetadata

	if stripped, m, ok := metadataFromFences(content); ok {
		content, meta = stripped, m
	} else if stripped, m, ok := metadataFromBraceScan(content); ok {
		content, meta = stripped, m
	}

	content = stripTrailingJSON(content)
	return strings.TrimSpace(content), meta
}

func hasMetadataKey(raw string) bool {
	return strings.Contains(raw, `"new_tasks"`) || strings.Contains(raw, `"glossary_terms"`)
}

func metadataFromFences(content string) (string, NotesMetadata, bool) {
	matches := fencedBlock.FindAllStringSubmatchIndex(content, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		body := strings.TrimSpace(content[m[2]:m[3]])
		if !hasMetadataKey(body) {
			continue
		}
		var meta NotesMetadata
		if err := json.Unmarshal([]byte(body), &meta); err != nil {
			continue
		}
		return content[:m[0]] + content[m[1]:], meta, true
	}
	return content, NotesMetadata{}, false
}

func metadataFromBraceScan(content string) (string, NotesMetadata, bool) {
	idx := strings.LastIndex(content, `"new_tasks"`)
	if j := strings.LastIndex(content, `"glossary_terms"`); j > idx {
		idx = j
	}
	if idx < 0 {
		return content, NotesMetadata{}, false
	}

	// Walk back to the opening brace of the enclosing object.
	open := strings.LastIndex(content[:idx], "{")
	if open < 0 {
		return content, NotesMetadata{}, false
	}

	depth := 0
	inString := false
	for i := open; i < len(content); i++ {
		switch c := content[i]; {
		case c == '"' && (i == 0 || content[i-1] != '\\'):
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				span := content[open : i+1]
				var meta NotesMetadata
				if err := json.Unmarshal([]byte(span), &meta); err != nil {
					return content, NotesMetadata{}, false
				}
				return content[:open] + content[i+1:], meta, true
			}
		}
	}
	return content, NotesMetadata{}, false
}

// stripTrailingJSON removes a trailing fenced block whose body parses as
// JSON, or a trailing line-run starting with "{" that parses as JSON.
func stripTrailingJSON(content string) string {
	trimmed := strings.TrimRight(content, " \t\n")

	if strings.HasSuffix(trimmed, "```") {
		if start := strings.LastIndex(trimmed[:len(trimmed)-3], "```"); start >= 0 {
			body := trimmed[start:]
			inner := strings.TrimSpace(strings.Trim(body, "`"))
			// Drop a language tag line such as JSON or json.
			if nl := strings.IndexByte(inner, '\n'); nl >= 0 {
				if first := strings.TrimSpace(inner[:nl]); first != "" && !strings.HasPrefix(first, "{") && !strings.HasPrefix(first, "[") {
					inner = inner[nl+1:]
				}
			}
			if json.Valid([]byte(strings.TrimSpace(inner))) {
				return trimmed[:start]
			}
		}
	}

	if open := strings.LastIndex(trimmed, "\n{"); open >= 0 {
		candidate := strings.TrimSpace(trimmed[open:])
		if json.Valid([]byte(candidate)) {
			return trimmed[:open]
		}
	}
	return content
}

// ParseJSONObject decodes a JSON-mode response into dst, retrying once with a
// surrounding fenced block stripped. Invalid JSON is a stage failure.
func ParseJSONObject(raw string, dst any) error {
	raw = strings.TrimSpace(raw)
	if err := json.Unmarshal([]byte(raw), dst); err == nil {
		return nil
	}
	if m := fencedBlock.FindStringSubmatch(raw); m != nil {
		return json.Unmarshal([]byte(strings.TrimSpace(m[1])), dst)
	}
	return json.Unmarshal([]byte(raw), dst)
}
