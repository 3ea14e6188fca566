// Package profile defines generation profiles that modulate collaborator
// prompt construction. Each profile provides a SystemPromptAddendum that is
// appended to the architect and developer system prompts, steering schema
// and program design toward a domain's conventions.
package profile

import "fmt"

// Profile describes one program-generation strategy.
type Profile struct {
	Name                 string
	Description          string
	SystemPromptAddendum string
}

// builtins is the registry of built-in profiles keyed by name.
var builtins = map[string]Profile{
	"general": {
		Name:        "general",
		Description: "Default profile; no domain assumptions.",
		SystemPromptAddendum: "Make no domain assumptions. Name schema fields exactly as the " +
			"request names them, and prefer flat input structures over nesting.",
	},
	"finance": {
		Name:        "finance",
		Description: "Financial analysis; totals, margins, and per-item profitability.",
		SystemPromptAddendum: "This is a financial analysis tool. Model monetary quantities as " +
			"plain numbers (no currency strings). Prefer explicit intermediate steps for totals " +
			"and margins over clever combined expressions, and always compute a ratio's " +
			"denominator in its own step so it can be inspected.",
	},
	"analytics": {
		Name:        "analytics",
		Description: "List analytics; filtering, ranking, and aggregation over records.",
		SystemPromptAddendum: "This is a record analytics tool. Inputs are lists of records. " +
			"Filter before aggregating, sort only when the request asks for ranking, and emit " +
			"counts alongside any filtered subset so results are auditable.",
	},
	"reporting": {
		Name:        "reporting",
		Description: "Human-readable summaries; formatted strings over computed values.",
		SystemPromptAddendum: "This is a reporting tool. Compute every value referenced by a " +
			"summary string in its own earlier step, then build the summary with a single " +
			"format_string step that references those output paths.",
	},
}

// Load returns the named built-in profile or an error if the name is unknown.
func Load(name string) (Profile, error) {
	p, ok := builtins[name]
	if !ok {
		return Profile{}, fmt.Errorf("profile: unknown profile %q (available: general, finance, analytics, reporting)", name)
	}
	return p, nil
}
