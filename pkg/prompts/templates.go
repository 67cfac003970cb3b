package prompts

var defaultTemplates = Set{
	PromptPrePlanningQueries: `You are planning background research for the topic below. Produce {{.Count}} diverse, short web search queries (3-8 words each) that together map the landscape: definitions, key players, recent developments, controversies, and data.

Topic: {{.Query}}

Respond with a JSON object: {"queries": ["...", "..."]}`,

	PromptPageAnalysis: `Analyze this page in the context of researching "{{.Query}}". Identify entities, subtopics, notable claims, and open questions it raises. Be concise (under 150 words).

Title: {{.Title}}
URL: {{.URL}}

{{.Content}}`,

	PromptOutline: `Design the outline for a long-form research report answering:

{{.Query}}
{{if .Context}}
Background gathered so far:
{{.Context}}
{{end}}
Produce exactly {{.Target}} sections. Executive summary and conclusion are produced separately; do NOT include them. Each section needs a title and a 1-2 sentence description of what it must cover.

Respond with a JSON object: {"sections": [{"title": "...", "description": "..."}]}`,

	PromptSectionTasks: `Plan research tasks for one section of a report on "{{.Query}}".

Section: {{.Title}}
Scope: {{.Description}}

Produce {{.Count}} focused research tasks. Each task investigates one concrete question within the section's scope. Give each a short topic and a 1-2 sentence description.

Respond with a JSON object: {"tasks": [{"topic": "...", "description": "..."}]}`,

	PromptQueryGeneration: `Generate {{.Count}} short web search queries (3-8 words each) to research:

Topic: {{.Topic}}
Details: {{.Description}}

Queries should approach the topic from different angles. Call the generate_queries function with the list.`,

	PromptExtraction: `Extract the passages from this source that are relevant to researching "{{.Topic}}". Keep facts, figures, quotes, and technical detail; drop navigation, ads, and unrelated material. Preserve the original wording of what you keep.

Source: {{.Title}} ({{.URL}})

{{.Content}}`,

	PromptTaskGapAnalysis: `You researched "{{.Topic}}" and found the sources below. Judge whether coverage is sufficient to write thorough notes.

{{.SourceList}}

If coverage is sufficient respond {"sufficient": true, "queries": []}. Otherwise respond {"sufficient": false, "queries": ["...", "..."]} with at most {{.MaxQueries}} targeted follow-up search queries.`,

	PromptNotes: `Write polished research notes on "{{.Topic}}" using ONLY the numbered sources below. Cite with [N] markers matching the source numbers. Be factual and specific; include figures and dates where the sources give them.
{{if .OtherSections}}
Other report sections (do not duplicate their ground): {{.OtherSections}}
{{end}}
{{.Sources}}

After the notes you may append a single JSON object with optional keys "new_tasks" (at most one follow-up topic worth its own investigation) and "glossary_terms" (term/definition pairs worth defining for readers).`,

	PromptNotesNoSources: `No usable web sources were found for "{{.Topic}}". Write brief research notes from your own knowledge, clearly hedged where uncertain. Do NOT include any [N] citation markers — there are no sources to cite.

Details: {{.Description}}`,

	PromptSectionSynthesis: `{{.StyleFragment}}

Write the section "{{.Title}}" of a research report.

Section scope: {{.Description}}

Full outline:
{{.Outline}}
{{if .Previous}}
Previous section covers: {{.Previous}}{{end}}{{if .Next}}
Next section covers: {{.Next}}{{end}}

Target {{.MinWords}}-{{.MaxWords}} words and at least {{.MinCitations}} [N] citations, preserving the citation numbers exactly as they appear in the notes.

Research notes:
{{.Notes}}`,

	PromptExecutiveSummary: `Write an executive summary (300-500 words) for a research report answering "{{.Query}}". Summarize the key findings across all sections. No citations.

Section summaries:
{{.SectionSummaries}}`,

	PromptConclusion: `Write the conclusion (400-600 words) for a research report answering "{{.Query}}". The report has {{.SectionCount}} sections and {{.TotalWords}} words. Draw together the findings, state what remains open, and end decisively. No citations.

Section summaries:
{{.SectionSummaries}}`,

	PromptSessionGapAnalysis: `Review this report plan after the first research pass on "{{.Query}}".

Sections and their research coverage:
{{.Coverage}}

Identify (a) sections needing targeted gap-fill research tasks and (b) missing sections the outline should gain. Limits: at most {{.MaxGapFillTasks}} gap-fill tasks and {{.MaxNewSections}} new sections.

Respond with a JSON object:
{"gap_fill_tasks": [{"section_title": "...", "topic": "...", "description": "..."}],
 "new_sections": [{"title": "...", "description": "..."}]}`,

	PromptQueryRefinement: `A user wants a research report on:

{{.Query}}

Ask up to {{.MaxQuestions}} short clarifying questions that would most improve the report (scope, angle, audience, time frame). Respond with a JSON object: {"questions": ["..."]}`,
}

// Style fragments selected by synthesis.style_profile.
var styleFragments = map[string]string{
	"confident": "You are a senior analyst. Write with authority: state findings directly, commit to interpretations the evidence supports, and avoid hedging language.",
	"balanced":  "You are a research analyst. Write clearly and factually, noting both the weight of evidence and genuine uncertainty where it exists.",
	"cautious":  "You are a careful reviewer. Qualify claims precisely, attribute every interpretation to its source, and flag weak or conflicting evidence explicitly.",
}

// StyleFragment returns the system-prompt fragment for a style profile,
// falling back to balanced.
func StyleFragment(profile string) string {
	if f, ok := styleFragments[profile]; ok {
		return f
	}
	return styleFragments["balanced"]
}
