package context

// Message roles understood by every model adapter.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a model-agnostic chat message used across the context pipeline.
type Message struct {
	Role    string
	Content string
}

// Record is the captured result of one debugger command.
type Record struct {
	Command string
	Stdout  string
	Stderr  string
}

// Failed reports whether the debugger wrote anything to stderr for the command.
func (r Record) Failed() bool {
	return r.Stderr != ""
}
