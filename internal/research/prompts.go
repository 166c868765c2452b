package research

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are an autonomous research agent. Your goal is to thoroughly research the user's query and produce a comprehensive report.

Available tools:
1. search(query) - Search the web for information
2. get_current_checklist() - View your current research plan and progress
3. modify_checklist(items) - Create or update your research plan
4. write_subreport(item_id, findings, source_ids) - Document findings for a checklist item
5. finish(final_report) - Complete research with the final synthesized report

Your workflow:
1. Create a research plan with modify_checklist - break down what you need to learn
2. For each checklist item: search for relevant information, then write_subreport with your findings and the source ids you relied on
3. Use get_current_checklist anytime to check your progress
4. When all items are completed, call finish with the final comprehensive report

Guidelines:
- Be thorough but efficient
- Cite sources inline using [source_id] notation, e.g. [3]
- Search multiple times to gather diverse information
- Synthesize everything into a cohesive final report`

// fallbackReport builds a deterministic best-effort report from whatever
// checklist findings exist. It is used on iteration exhaustion or a fatal
// error so a session never returns an empty result.
func fallbackReport(query string, items []ChecklistItem, sources []Source) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Research summary: %s\n\n", strings.TrimSpace(query))
	b.WriteString("The research session ended before a final report was written. ")
	b.WriteString("The findings gathered so far are summarized below.\n")

	var completed, pending []ChecklistItem
	for _, item := range items {
		if item.Status == StatusCompleted {
			completed = append(completed, item)
		} else {
			pending = append(pending, item)
		}
	}

	if len(completed) > 0 {
		b.WriteString("\n## Findings\n")
		for _, item := range completed {
			fmt.Fprintf(&b, "\n### %s\n", item.Question)
			findings := strings.TrimSpace(item.Findings)
			if findings == "" {
				findings = "(no findings recorded)"
			}
			b.WriteString(findings)
			if len(item.SourceIDs) > 0 {
				refs := make([]string, 0, len(item.SourceIDs))
				for _, id := range item.SourceIDs {
					refs = append(refs, fmt.Sprintf("[%d]", id))
				}
				fmt.Fprintf(&b, " %s", strings.Join(refs, ""))
			}
			b.WriteString("\n")
		}
	}

	if len(pending) > 0 {
		b.WriteString("\n## Unresolved questions\n")
		for _, item := range pending {
			fmt.Fprintf(&b, "- %s\n", item.Question)
		}
	}

	if len(sources) > 0 {
		b.WriteString("\n## Sources\n")
		for _, src := range sources {
			fmt.Fprintf(&b, "%s %s (%s)\n", src.Ref(), src.Title, src.URL)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
