package context

// Provider retrieves previously executed cycles from a persistent store.
type Provider interface {
	GetHistory(sessionID string, limit int) ([]Entry, error)
}

// Assembler builds the opening transcript of a cycle.
type Assembler interface {
	Assemble(system string, window *Window, request string) []Message
}
