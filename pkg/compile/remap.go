package compile

import (
	"context"
	"fmt"
	"strings"

	"github.com/tomeworks/tome/pkg/ledger"
	"github.com/tomeworks/tome/pkg/models"
	"github.com/tomeworks/tome/pkg/research"
)

// globalSource is one entry in the report-wide citation list.
type globalSource struct {
	Source models.Source
	Number int
}

// remapper assigns global citation numbers in first-appearance order across
// sections and rewrites each section's local [N] markers.
type remapper struct {
	byID    map[int64]int
	ordered []globalSource
}

func newRemapper() *remapper {
	return &remapper{byID: map[int64]int{}}
}

// globalNumber returns the source's report-wide number, assigning the next
// one on first appearance.
func (r *remapper) globalNumber(src models.Source) int {
	if n, ok := r.byID[src.ID]; ok {
		return n
	}
	n := len(r.ordered) + 1
	r.byID[src.ID] = n
	r.ordered = append(r.ordered, globalSource{Source: src, Number: n})
	return n
}

// remapSection rewrites a section's local [n] markers into global numbers.
// The local numbering is the section's deduplicated source list in position
// order, where entry i answers local citation i+1 for original sources and
// the stored gap-fill position for offset entries. Markers with no mapping
// are left unchanged and reported.
func (r *remapper) remapSection(content string, entries []ledger.Entry) (string, []int) {
	local := map[int]int{}
	for i, e := range entries {
		g := r.globalNumber(e.Source)
		// A source is citable both by its list index and, for gap-fill
		// entries, by its stored offset position.
		local[i+1] = g
		if e.Position >= ledger.GapFillOffset {
			local[e.Position] = g
		}
	}

	cits := research.FindCitations(content)
	if len(cits) == 0 {
		return content, nil
	}

	var unmapped []int
	var sb strings.Builder
	prev := 0
	for _, c := range cits {
		g, ok := local[c.N]
		if !ok {
			unmapped = append(unmapped, c.N)
			continue
		}
		sb.WriteString(content[prev:c.Start])
		fmt.Fprintf(&sb, "[%d]", g)
		prev = c.End
	}
	sb.WriteString(content[prev:])
	return sb.String(), unmapped
}

// collectSectionSources builds each section's ordered, deduplicated source
// list and feeds the remapper in section position order.
func (c *Compiler) remapAll(ctx context.Context, sections []*models.Section) (map[int64]string, []globalSource, error) {
	r := newRemapper()
	contents := make(map[int64]string, len(sections))

	for _, sec := range sections {
		if sec.SynthesizedContent == "" {
			continue
		}
		entries, err := c.ledger.ForSection(ctx, sec.ID)
		if err != nil {
			return nil, nil, err
		}
		remapped, unmapped := r.remapSection(sec.SynthesizedContent, entries)
		if len(unmapped) > 0 {
			c.logger.Warn("Citations without a source mapping left unchanged",
				"section", sec.Title, "markers", unmapped)
		}
		contents[sec.ID] = remapped
	}
	return contents, r.ordered, nil
}
