package backend

import (
	"fmt"
	"strings"
)

// RenderPrompt turns a request into the natural-language prompt given to an
// agent executor.
func RenderPrompt(req Request) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are assigned task %q.\n\n", req.TaskID)
	b.WriteString("## Task\n\n")
	b.WriteString(strings.TrimSpace(req.Content))
	b.WriteString("\n")

	if len(req.CompletedDependencyContext) > 0 {
		b.WriteString("\n## Completed prerequisites\n\n")
		b.WriteString("These tasks finished before yours and their results are available:\n")
		for _, id := range req.CompletedDependencyContext {
			fmt.Fprintf(&b, "- %s\n", id)
		}
	}

	if req.Attempt > 1 {
		fmt.Fprintf(&b, "\nThis is attempt %d; an earlier attempt did not succeed.\n", req.Attempt)
	}

	if req.Instructions != "" {
		b.WriteString("\n## Reporting\n\n")
		b.WriteString(strings.TrimSpace(req.Instructions))
		b.WriteString("\n")
	}

	return b.String()
}
