package monitor

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
)

// DefaultTailChars is how much trailing output the observer looks at.
const DefaultTailChars = 400

// Snapshot is what the terminal observer sees of a session at one instant.
type Snapshot struct {
	Now          time.Time
	LastOutputAt time.Time
	Tail         string
	// ExitCode is nil while the process is alive.
	ExitCode *int
	// CommandActive reports whether a foreground command has been dispatched
	// and has not yet been seen to finish.
	CommandActive bool
}

// Observation is the terminal observer's verdict.
type Observation struct {
	State  State
	Reason string
	Idle   time.Duration
}

// rule is one step of the classification. Rules run in order and the first
// match decides the state.
type rule struct {
	state  State
	reason string
	match  func(s Snapshot, clean string) bool
}

var terminalRules = []rule{
	{StateSuccess, "exit 0", func(s Snapshot, _ string) bool {
		return s.ExitCode != nil && *s.ExitCode == 0
	}},
	{StateFail, "exit non-zero", func(s Snapshot, _ string) bool {
		return s.ExitCode != nil
	}},
	{StateNeedInput, "prompt-like tail", func(_ Snapshot, clean string) bool {
		return LooksLikeNeedInput(clean)
	}},
	{StateIdle, "no active command", func(s Snapshot, _ string) bool {
		return !s.CommandActive
	}},
	{StateSuccess, "shell prompt", func(_ Snapshot, clean string) bool {
		return LooksLikeShellPrompt(clean)
	}},
}

// ComputeState classifies a snapshot. It is pure: same snapshot, same result.
func ComputeState(s Snapshot) Observation {
	idle := s.Now.Sub(s.LastOutputAt)
	if idle < 0 || s.LastOutputAt.IsZero() {
		idle = 0
	}

	var clean string
	if s.ExitCode == nil {
		clean = CleanTail(s.Tail)
	}
	for _, r := range terminalRules {
		if r.match(s, clean) {
			return Observation{State: r.state, Reason: r.reason, Idle: idle}
		}
	}
	return Observation{State: StateRunning, Reason: "command running", Idle: idle}
}

// CleanTail strips escape sequences and control bytes from terminal output.
// Carriage returns become newlines; tabs and newlines are kept.
func CleanTail(text string) string {
	if text == "" {
		return ""
	}
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "\uFFFD")
	}
	stripped := ansi.Strip(text)
	stripped = strings.ReplaceAll(stripped, "\r\n", "\n")

	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range stripped {
		switch {
		case r == '\r':
			b.WriteByte('\n')
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case r < 0x20 || r == 0x7f:
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// TailForObservation normalizes line endings and keeps the last maxChars
// runes of text. A non-positive maxChars means DefaultTailChars.
func TailForObservation(text string, maxChars int) string {
	if text == "" {
		return ""
	}
	if maxChars <= 0 {
		maxChars = DefaultTailChars
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	n := utf8.RuneCountInString(text)
	if n <= maxChars {
		return text
	}
	skip := n - maxChars
	for i := range text {
		if skip == 0 {
			return text[i:]
		}
		skip--
	}
	return ""
}

var needInputNeedles = []string{
	"press enter",
	"press return",
	"[y/n]",
	"(y/n)",
	"continue?",
	"password:",
	"are you sure",
}

var yesNoToken = regexp.MustCompile(`(?i)\by/n\b`)

// LooksLikeNeedInput reports whether cleaned tail text ends in something
// that is waiting on the user, such as a confirmation or password prompt.
func LooksLikeNeedInput(clean string) bool {
	if clean == "" {
		return false
	}
	lower := strings.ToLower(clean)
	for _, needle := range needInputNeedles {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return yesNoToken.MatchString(clean)
}

// Shell prompt shapes. Each matches one full line; the caller supplies the
// line or uses the whole-tail variants below.
var promptPatterns = []string{
	// C:\Users\me> or PS C:\src>
	`(?:PS )?[A-Za-z]:\\[^\n]*>`,
	// user@host:~/src$ or root@box:/#
	`[\w.-]+@[\w.-]+:[^\n]*[$#]`,
	// [user@host src]$
	`\[[^\]\n]+\][$#]`,
	// bash-5.2$, ~ $, sh#
	`\S+ ?[$#]`,
}

var (
	linePromptRes = compileAll(`^(?:%s)[ \t]*$`)
	tailPromptRes = compileAll(`(?m)^(?:%s)\s*\z`)
)

func compileAll(format string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, 0, len(promptPatterns))
	for _, p := range promptPatterns {
		res = append(res, regexp.MustCompile(strings.Replace(format, "%s", p, 1)))
	}
	return res
}

// LooksLikeShellPrompt reports whether cleaned tail text ends with an
// interactive shell prompt. Only line-end shapes count, so output that
// merely mentions a path or a dollar sign mid-line does not match.
func LooksLikeShellPrompt(clean string) bool {
	if line := lastNonEmptyLine(clean); line != "" {
		for _, re := range linePromptRes {
			if re.MatchString(line) {
				return true
			}
		}
	}
	for _, re := range tailPromptRes {
		if re.MatchString(clean) {
			return true
		}
	}
	return false
}

func lastNonEmptyLine(text string) string {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return strings.TrimLeft(lines[i], " \t")
		}
	}
	return ""
}
