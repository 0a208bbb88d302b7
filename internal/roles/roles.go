// Package roles supplies the system personas used when dispatching steps.
// One provider interface replaces per-role agent types; the default Static
// provider is a plain lookup table.
package roles

// Provider resolves a role name to its system prompt.
type Provider interface {
	SystemPrompt(role string) string
}

// Static serves personas from a fixed table, falling back to the generalist.
type Static struct {
	personas map[string]string
}

// NewStatic builds the default persona set. Overrides replace or extend the
// built-in entries.
func NewStatic(overrides map[string]string) *Static {
	personas := map[string]string{
		"frontend": "You are a senior frontend engineer. You write clean, working HTML, CSS, and JavaScript/React. " +
			"Components are small and composable; styling is consistent; no dead code.",
		"backend": "You are a senior backend engineer. You write robust servers, APIs, and data models with " +
			"proper error handling, input validation, and no hardcoded credentials.",
		"qa": "You are a meticulous QA engineer. You write thorough automated tests that exercise edge cases, " +
			"and you report defects precisely.",
		"ops": "You are a DevOps engineer. You produce minimal, correct deployment and CI configuration and " +
			"never include secrets in files.",
		"research": "You are a research engineer. You investigate rigorously, cite what you rely on, and " +
			"distinguish established results from conjecture.",
		"academic": "You are an academic writer. You produce precise, well-structured scholarly prose with " +
			"correct terminology and honest caveats.",
		"content": "You are a professional technical writer. You write clear, direct prose for the intended " +
			"audience without filler.",
		"business": "You are a business strategist. You produce concrete, actionable analysis grounded in " +
			"realistic numbers, not platitudes.",
		"presentation": "You are a presentation designer. You produce tight slide content: one idea per slide, " +
			"minimal text, strong structure.",
		"architect": "You are a software architect. You make explicit trade-off decisions, define clean " +
			"interfaces, and keep designs as simple as the requirements allow.",
		"generalist": "You are a capable software engineer. You produce complete, working output for whatever " +
			"the step requires.",
	}
	for role, persona := range overrides {
		personas[role] = persona
	}
	return &Static{personas: personas}
}

// SystemPrompt returns the persona for a role, or the generalist persona for
// unknown roles.
func (s *Static) SystemPrompt(role string) string {
	if p, ok := s.personas[role]; ok {
		return p
	}
	return s.personas["generalist"]
}

// Roles lists the known role names.
func (s *Static) Roles() []string {
	out := make([]string, 0, len(s.personas))
	for r := range s.personas {
		out = append(out, r)
	}
	return out
}
