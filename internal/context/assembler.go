package context

import "strings"

// StandardAssembler opens a cycle transcript with one system message
// holding the prompt and the rendered window, followed by the request.
type StandardAssembler struct {
	// Separator goes between the prompt and the rendered window; "\n\n" if empty.
	Separator string
}

func (a *StandardAssembler) Assemble(system string, window *Window, request string) []Message {
	content := strings.TrimSpace(system)
	if window != nil {
		if rendered := window.Render(window.Size); rendered != "" {
			sep := a.Separator
			if sep == "" {
				sep = "\n\n"
			}
			content += sep + rendered
		}
	}
	return []Message{
		{Role: RoleSystem, Content: content},
		{Role: RoleUser, Content: request},
	}
}
