// Package display renders the conversation for a terminal.
//
// [Console] implements the orchestrator's display collaborator. It prints a
// line whenever the state changes and whenever the user or agent transcript
// changes, wrapping text by terminal cell width so that full-width (CJK)
// characters take two columns.
package display

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/text/width"

	"github.com/MrWong99/kikai/internal/conversation"
)

var _ conversation.Display = (*Console)(nil)

const (
	defaultAgentName = "Kikai-kun"
	defaultWidth     = 72
)

// Option configures a [Console].
type Option func(*Console)

// WithAgentName sets the label printed before agent lines.
func WithAgentName(name string) Option {
	return func(c *Console) {
		if name != "" {
			c.agentName = name
		}
	}
}

// WithWidth sets the wrap width in terminal columns.
func WithWidth(cols int) Option {
	return func(c *Console) {
		if cols > 0 {
			c.width = cols
		}
	}
}

// Snapshot is the text currently shown.
type Snapshot struct {
	State     conversation.State
	StateCode int
	User      string
	Agent     string
}

// Console writes conversation updates to an [io.Writer]. It is safe for
// concurrent use.
type Console struct {
	mu        sync.Mutex
	w         io.Writer
	agentName string
	width     int

	state conversation.State
	user  string
	agent string
}

// NewConsole creates a Console writing to w.
func NewConsole(w io.Writer, opts ...Option) *Console {
	c := &Console{
		w:         w,
		agentName: defaultAgentName,
		width:     defaultWidth,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetState prints the new state.
func (c *Console) SetState(s conversation.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
	slog.Debug("display state", "state", s, "code", s.Code())
	fmt.Fprintf(c.w, "[%s]\n", s)
}

// SetUserText prints the user's transcript. A new user line clears the
// previous agent text.
func (c *Console) SetUserText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = text
	c.agent = ""
	c.printLocked("You: ", text)
}

// SetAgentText prints the agent's transcript unless it is unchanged.
func (c *Console) SetAgentText(text string) {
	text = strings.TrimSpace(text)
	c.mu.Lock()
	defer c.mu.Unlock()
	if text == "" || text == c.agent {
		return
	}
	c.agent = text
	c.printLocked(c.agentName+": ", text)
}

// Reset clears both transcripts.
func (c *Console) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == "" && c.agent == "" {
		return
	}
	c.user, c.agent = "", ""
	fmt.Fprintln(c.w, "  (interrupted)")
}

// Snapshot returns what is currently displayed.
func (c *Console) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:     c.state,
		StateCode: c.state.Code(),
		User:      c.user,
		Agent:     c.agent,
	}
}

func (c *Console) printLocked(prefix, text string) {
	for _, line := range wrap(prefix, text, c.width) {
		fmt.Fprintln(c.w, line)
	}
}

// wrap breaks text into lines of at most limit columns. The first line starts
// with prefix; continuation lines are indented to the same column. Words
// longer than a line, and text without spaces, are broken between runes.
func wrap(prefix, text string, limit int) []string {
	start := StringWidth(prefix)
	indent := strings.Repeat(" ", start)

	var (
		lines []string
		line  strings.Builder
		col   = start
	)
	line.WriteString(prefix)
	flush := func() {
		lines = append(lines, strings.TrimRight(line.String(), " "))
		line.Reset()
		line.WriteString(indent)
		col = start
	}

	for _, word := range strings.Fields(text) {
		if col > start && col+1+StringWidth(word) > limit {
			flush()
		}
		if col > start {
			line.WriteByte(' ')
			col++
		}
		for _, r := range word {
			w := runeWidth(r)
			if col > start && col+w > limit {
				flush()
			}
			line.WriteRune(r)
			col += w
		}
	}
	return append(lines, line.String())
}

// StringWidth returns the number of terminal columns s occupies. East Asian
// wide and fullwidth runes take two columns.
func StringWidth(s string) int {
	n := 0
	for _, r := range s {
		n += runeWidth(r)
	}
	return n
}

// Truncate shortens s to at most cols terminal columns, ending it with "…"
// when anything was cut. Runes are never split.
func Truncate(s string, cols int) string {
	if StringWidth(s) <= cols {
		return s
	}
	if cols <= 0 {
		return ""
	}
	n := 0
	for i, r := range s {
		w := runeWidth(r)
		if n+w > cols-1 {
			return s[:i] + "…"
		}
		n += w
	}
	return s
}

func runeWidth(r rune) int {
	switch width.LookupRune(r).Kind() {
	case width.EastAsianWide, width.EastAsianFullwidth:
		return 2
	}
	return 1
}
