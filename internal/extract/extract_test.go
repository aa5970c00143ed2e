package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_FencedRoundTrip(t *testing.T) {
	in := "Set the breakpoint, then start:\n```gdb\nbreak main\nrun\n```\nThat should stop at main."
	b := New(ModeFenced).Extract(in)

	assert.Equal(t, []string{"break main", "run"}, b.Commands)
	assert.Equal(t, "Set the breakpoint, then start:\nThat should stop at main.", b.Narrative)
	assert.NotContains(t, b.Narrative, "```")
	assert.False(t, b.Declined)
}

func TestExtract_NoFenceIsNarrative(t *testing.T) {
	in := "You probably want the break command."
	b := New(ModeFenced).Extract(in)

	assert.Empty(t, b.Commands)
	assert.Equal(t, in, b.Narrative)
}

func TestExtract_MultipleRegionsConcatenateInOrder(t *testing.T) {
	in := "first\n```gdb\n  help break  \n\n```\nmiddle\n```gdb\nhelp run\n```"
	b := New(ModeFenced).Extract(in)

	assert.Equal(t, []string{"help break", "help run"}, b.Commands)
	assert.Equal(t, "first\nmiddle", b.Narrative)
}

func TestExtract_InfoStringIgnored(t *testing.T) {
	b := New(ModeFenced).Extract("```gdb title=probe\nhelp breakpoints\n```")
	assert.Equal(t, []string{"help breakpoints"}, b.Commands)
	assert.Empty(t, b.Narrative)
}

func TestExtract_UnterminatedFenceIsNoMatch(t *testing.T) {
	in := "```gdb\nbreak main\nrun"
	b := New(ModeFenced).Extract(in)

	assert.Empty(t, b.Commands)
	assert.Equal(t, in, b.Narrative)
}

func TestExtract_UnterminatedAfterValidRegion(t *testing.T) {
	in := "```gdb\nbreak main\n```\nthen\n```gdb\nrun"
	b := New(ModeFenced).Extract(in)

	assert.Equal(t, []string{"break main"}, b.Commands)
	assert.Equal(t, "then\n```gdb\nrun", b.Narrative)
}

func TestExtract_ZeroValueUsesDefaults(t *testing.T) {
	var e Extractor
	b := e.Extract("```gdb\ninfo frame\n```")
	assert.Equal(t, []string{"info frame"}, b.Commands)
}

func TestExtract_CustomMarkers(t *testing.T) {
	e := &Extractor{Open: "<cmd>", Close: "</cmd>"}
	b := e.Extract("do this <cmd>\nbt\n</cmd> ok")
	assert.Equal(t, []string{"bt"}, b.Commands)
	assert.Equal(t, "do this\nok", b.Narrative)
}

func TestExtract_LinesMode(t *testing.T) {
	e := New(ModeLines)

	b := e.Extract("break main\n\nrun\n")
	assert.Equal(t, []string{"break main", "run"}, b.Commands)
	assert.Empty(t, b.Narrative)

	// Fences still win when present.
	b = e.Extract("note\n```gdb\nbt\n```")
	assert.Equal(t, []string{"bt"}, b.Commands)
	assert.Equal(t, "note", b.Narrative)
}

func TestExtract_JSONMode(t *testing.T) {
	e := New(ModeJSON)

	b := e.Extract(`Sure: {"commands": ["break main", "run"], "explanation": "stop at main"}`)
	assert.Equal(t, []string{"break main", "run"}, b.Commands)
	assert.Equal(t, "stop at main", b.Narrative)

	// No JSON object: fall back to fences.
	b = e.Extract("```gdb\nbt\n```")
	assert.Equal(t, []string{"bt"}, b.Commands)

	// Braces inside strings do not confuse the scanner.
	b = e.Extract(`{"commands": ["print \"{\""], "explanation": ""}`)
	require.Len(t, b.Commands, 1)
	assert.Equal(t, `print "{"`, b.Commands[0])
}

func TestExtract_NoCommandMarker(t *testing.T) {
	b := New(ModeFenced).Extract("```gdb\n# No valid command\n```\nThere is no such command.")
	assert.True(t, b.Declined)
	assert.Empty(t, b.Commands)
	assert.Equal(t, "There is no such command.", b.Narrative)
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeFenced, "Fenced": ModeFenced, "lines": ModeLines, "json": ModeJSON} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMode("yaml")
	assert.Error(t, err)
}
