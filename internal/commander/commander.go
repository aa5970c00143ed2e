package commander

import "io"

// Kind classifies text shown to the user.
type Kind int

const (
	KindInfo Kind = iota
	KindCommand
	KindStdout
	KindStderr
	KindNarrative
	KindError
)

// Commander is the interactive surface the session reads requests from
// and reports results to.
type Commander interface {
	// ReadLine returns the next input line without its newline, or io.EOF
	// once input ends.
	ReadLine(prompt string) (string, error)
	// Confirm asks a yes/no question. Anything but an explicit yes is no.
	Confirm(question string) (bool, error)
	Notify(kind Kind, text string)
	// Stream receives partial model output while a query is in flight.
	Stream() io.Writer
}
