package cmd

import (
	"io"

	"github.com/muesli/termenv"

	"termwatch/internal/monitor"
)

var stateColors = map[monitor.State]string{
	monitor.StateIdle:      "8",
	monitor.StateRunning:   "4",
	monitor.StateNeedInput: "3",
	monitor.StateSuccess:   "2",
	monitor.StateFail:      "1",
}

// stateLabel renders a state name, colored when w is a terminal that
// supports it.
func stateLabel(w io.Writer, s monitor.State) string {
	out := termenv.NewOutput(w)
	color, ok := stateColors[s]
	if !ok || out.Profile == termenv.Ascii {
		return string(s)
	}
	style := out.String(string(s)).Foreground(out.Color(color))
	if s == monitor.StateNeedInput || s == monitor.StateFail {
		style = style.Bold()
	}
	return style.String()
}
