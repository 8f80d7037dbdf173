package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"

	"otto/internal/domain"
	"otto/internal/validate"
)

var intentColors = map[string]text.Colors{
	"FAIL":      {text.FgRed},
	"WARN":      {text.FgYellow},
	"INFO":      {text.FgBlue},
	"COMPLETED": {text.FgGreen},
	"SUCCESS":   {text.FgGreen},
}

// intent is the leading word of a message, e.g. FAIL in "FAIL: ...".
func intent(msg string) string {
	word := msg
	if i := strings.IndexAny(msg, ":! "); i >= 0 {
		word = msg[:i]
	}
	return strings.ToUpper(word)
}

// formatMsg colors a message by its intent. Unknown intents are left plain.
func formatMsg(msg string) string {
	colors, ok := intentColors[intent(msg)]
	if !ok {
		return msg
	}
	return colors.Sprint(msg)
}

func printReport(w io.Writer, r validate.Report) {
	for _, d := range r.Diagnostics {
		fmt.Fprintln(w, formatMsg(d.String()))
	}
}

func colorStatus(status string) string {
	switch status {
	case domain.RunCompleted:
		return text.FgGreen.Sprint(status)
	case domain.RunFailed:
		return text.FgRed.Sprint(status)
	case domain.RunDeclined:
		return text.FgYellow.Sprint(status)
	default:
		return status
	}
}
