package output

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/muesli/termenv"
)

// Named colors used across the CLI.
var namedColors = map[string]string{
	"red":     "#FF5555",
	"green":   "#50FA7B",
	"yellow":  "#F1FA8C",
	"blue":    "#6272A4",
	"magenta": "#FF79C6",
	"cyan":    "#8BE9FD",
	"gray":    "#6272A4",
	"orange":  "#FFB86C",
}

// Output handles CLI output formatting.
type Output struct {
	jsonMode bool
	noColor  bool
	profile  termenv.Profile
}

// New creates a new Output instance.
func New(jsonMode bool) *Output {
	noColor := os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb"
	return &Output{
		jsonMode: jsonMode,
		noColor:  noColor,
		profile:  termenv.ColorProfile(),
	}
}

func (o *Output) color(name, text string) string {
	if o.noColor {
		return text
	}
	hex, ok := namedColors[strings.ToLower(name)]
	if !ok {
		hex = name
	}
	col := o.profile.Color(hex)
	if col == nil {
		return text
	}
	return termenv.String(text).Foreground(col).String()
}

func (o *Output) bold(text string) string {
	if o.noColor {
		return text
	}
	return termenv.String(text).Bold().String()
}

// Success prints a success message.
func (o *Output) Success(format string, args ...any) {
	if o.jsonMode {
		return
	}
	fmt.Printf(o.color("green", "✓ ")+format+"\n", args...)
}

// Error prints an error message.
func (o *Output) Error(format string, args ...any) {
	if o.jsonMode {
		return
	}
	fmt.Fprintf(os.Stderr, o.color("red", "✗ ")+format+"\n", args...)
}

// Warn prints a warning message.
func (o *Output) Warn(format string, args ...any) {
	if o.jsonMode {
		return
	}
	fmt.Printf(o.color("yellow", "! ")+format+"\n", args...)
}

// Info prints an info message.
func (o *Output) Info(format string, args ...any) {
	if o.jsonMode {
		return
	}
	fmt.Printf(o.color("cyan", "→ ")+format+"\n", args...)
}

// Header prints a header.
func (o *Output) Header(text string) {
	if o.jsonMode {
		return
	}
	fmt.Println(o.bold(text))
}

// KeyValue prints a key-value pair.
func (o *Output) KeyValue(key, value string) {
	if o.jsonMode {
		return
	}
	fmt.Printf("  %s: %s\n", o.color("gray", key), value)
}

// Divider prints a divider line.
func (o *Output) Divider() {
	if o.jsonMode {
		return
	}
	fmt.Println(o.color("gray", "─────────────────────────────────────────"))
}

// JSON prints data as JSON.
func (o *Output) JSON(data any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

// Event prints one formatted event line. In JSON mode it emits a
// compact object per line for piping.
func (o *Output) Event(id, topic string, payload json.RawMessage, ts time.Time) {
	if o.jsonMode {
		enc := json.NewEncoder(os.Stdout)
		enc.Encode(map[string]any{
			"id":        id,
			"topic":     topic,
			"payload":   json.RawMessage(payload),
			"timestamp": ts,
		})
		return
	}
	fmt.Printf("%s %s %s\n",
		o.color("gray", ts.Format("15:04:05")),
		o.color("magenta", topic),
		string(payload),
	)
}
