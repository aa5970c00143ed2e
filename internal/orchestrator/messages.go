package orchestrator

import (
	"fmt"
	"strings"

	ctxpkg "github.com/stupiduntilnot/agentdbg/internal/context"
)

func assistant(content string) ctxpkg.Message {
	return ctxpkg.Message{Role: ctxpkg.RoleAssistant, Content: content}
}

func user(content string) ctxpkg.Message {
	return ctxpkg.Message{Role: ctxpkg.RoleUser, Content: content}
}

func fenced(open, closing string, commands ...string) string {
	return open + "\n" + strings.Join(commands, "\n") + "\n" + closing
}

func narrativeCorrection(open, closing string) string {
	return fmt.Sprintf("Your reply contained no debugger commands. Reply with the commands to run, one per line, "+
		"inside a block that starts with %s and ends with %s. Use help probes first if you are unsure.", open, closing)
}

func protocolCorrection(open, closing string) string {
	return fmt.Sprintf("Your last reply was empty or unreadable. Reply with debugger commands inside a %s ... %s block.",
		open, closing)
}

func probeFirstCorrection(prefix string, have, want int) string {
	return fmt.Sprintf("Do not answer yet. Verify the command syntax first by asking the debugger for help: "+
		"reply only with %q probes (for example %q). Probes so far: %d of %d required.",
		strings.TrimSpace(prefix)+" <command>", prefix+"break", have, want)
}

func probeResult(command, output string, probeCount, minProbes int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Output of `%s`:\n", command)
	if strings.TrimSpace(output) == "" {
		b.WriteString("(no output)\n")
	} else {
		b.WriteString(strings.TrimRight(output, "\n"))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	if probeCount >= minProbes {
		b.WriteString("Reply with more help probes if needed, or with the final commands that fulfil the request.")
	} else {
		b.WriteString("Reply with the next help probe.")
	}
	return b.String()
}

func joinStderr(stderr string, err error) string {
	if stderr == "" {
		return err.Error()
	}
	return strings.TrimRight(stderr, "\n") + "\n" + err.Error()
}
