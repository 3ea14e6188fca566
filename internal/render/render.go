// Package render produces output from a finished repair run: pretty JSON for
// artifacts written to disk and a Markdown summary for terminals and PR
// comments.
package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/pretty"

	"github.com/dshills/microforge/internal/repair"
)

// JSON renders v as stable, human-readable JSON. Used for the deployed
// program artifact and for program output in the run command.
func JSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("render: json marshal: %w", err)
	}
	return pretty.PrettyOptions(b, &pretty.Options{Indent: "  "}), nil
}

// Markdown produces a Markdown summary of a repair run. Every attempt in the
// history appears in the output.
func Markdown(result *repair.Result) string {
	if result == nil {
		return ""
	}
	var sb strings.Builder

	sb.WriteString("## microforge build report\n\n")
	fmt.Fprintf(&sb, "**Status:** %s  \n", result.Status)
	fmt.Fprintf(&sb, "**Repair attempts:** %d  \n", result.Attempts)
	if result.Program != nil {
		fmt.Fprintf(&sb, "**Program:** %s (%d steps)  \n", result.Program.Name, len(result.Program.Steps))
	}
	fmt.Fprintf(&sb, "**Test cases:** %d\n\n", len(result.Cases))

	if result.Program != nil && len(result.Program.Steps) > 0 {
		sb.WriteString("## Steps\n\n")
		sb.WriteString("| ID | Op | Output | Description |\n")
		sb.WriteString("|---|---|---|---|\n")
		for _, s := range result.Program.Steps {
			fmt.Fprintf(&sb, "| %s | %s | `%s` | %s |\n",
				s.ID, s.Op.Kind, s.OutputPath, mdEscape(s.Description))
		}
		sb.WriteString("\n")
	}

	if len(result.Cases) > 0 {
		sb.WriteString("## Test Cases\n\n")
		sb.WriteString("| ID | Name | Expectation |\n")
		sb.WriteString("|---|---|---|\n")
		for _, c := range result.Cases {
			expect := "completes"
			switch {
			case c.ExpectFailure && c.FailureKind != "":
				expect = "fails with " + string(c.FailureKind)
			case c.ExpectFailure:
				expect = "fails"
			case len(c.Expected) > 0:
				expect = "matches expected output"
			}
			fmt.Fprintf(&sb, "| %s | %s | %s |\n", c.ID, mdEscape(c.Name), expect)
		}
		sb.WriteString("\n")
	}

	if result.Status == repair.StatusAbandoned && len(result.History) > 0 {
		sb.WriteString("## Attempt History\n\n")
		for _, a := range result.History {
			steps := 0
			if a.Program != nil {
				steps = len(a.Program.Steps)
			}
			fmt.Fprintf(&sb, "<details>\n<summary><strong>Attempt %d</strong> (%d steps)</summary>\n\n",
				a.Number, steps)
			if a.Report != nil {
				sb.WriteString("```\n")
				sb.WriteString(strings.TrimRight(a.Report.Text(), "\n"))
				sb.WriteString("\n```\n\n")
			} else {
				sb.WriteString("All tests passed.\n\n")
			}
			sb.WriteString("</details>\n\n")
		}
	}

	return sb.String()
}

// mdEscape replaces characters that would break Markdown table cells.
func mdEscape(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	return s
}
