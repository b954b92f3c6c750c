// Package transcript renders conversations for terminals and exports them as markdown.
//
// Agent colors come from a Palette owned by the caller. Every agent keeps the color it was first given for
// the lifetime of its Palette, and separate Palettes never share assignments.
package transcript

import (
	"fmt"
	"io"
	"strings"

	"github.com/MegaGrindStone/agent-chat-ui/internal/models"
	"github.com/fatih/color"
)

// Palette assigns colors to agents in order of first appearance.
type Palette struct {
	colors   []*color.Color
	assigned map[string]*color.Color
	next     int
}

var defaultAgentColors = []color.Attribute{
	color.FgHiCyan,
	color.FgHiGreen,
	color.FgHiMagenta,
	color.FgHiYellow,
	color.FgHiBlue,
	color.FgHiRed,
}

// NewPalette creates a palette cycling through attrs, or through a default set when none are given.
func NewPalette(attrs ...color.Attribute) *Palette {
	if len(attrs) == 0 {
		attrs = defaultAgentColors
	}
	colors := make([]*color.Color, len(attrs))
	for i, attr := range attrs {
		colors[i] = color.New(attr, color.Bold)
	}
	return &Palette{
		colors:   colors,
		assigned: make(map[string]*color.Color),
	}
}

// Color returns the color of agent, assigning the next unused one on first sight. Once every color is
// taken, assignment wraps around.
func (p *Palette) Color(agent string) *color.Color {
	if c, ok := p.assigned[agent]; ok {
		return c
	}
	c := p.colors[p.next%len(p.colors)]
	p.next++
	p.assigned[agent] = c
	return c
}

// Assigned returns the number of agents with a color.
func (p *Palette) Assigned() int {
	return len(p.assigned)
}

// Printer writes messages to a terminal.
type Printer struct {
	w       io.Writer
	palette *Palette

	user      *color.Color
	assistant *color.Color
	system    *color.Color
	tool      *color.Color
	dim       *color.Color
}

// NewPrinter creates a Printer writing to w. A nil palette gets a fresh default one.
func NewPrinter(w io.Writer, palette *Palette) *Printer {
	if palette == nil {
		palette = NewPalette()
	}
	return &Printer{
		w:         w,
		palette:   palette,
		user:      color.New(color.FgWhite, color.Bold),
		assistant: color.New(color.FgCyan, color.Bold),
		system:    color.New(color.FgRed),
		tool:      color.New(color.FgHiBlack),
		dim:       color.New(color.FgHiBlack),
	}
}

// Message prints one message with a header naming its author.
func (p *Printer) Message(msg models.Message) {
	var header *color.Color
	var author string
	switch msg.Role {
	case models.RoleUser:
		header, author = p.user, "You"
	case models.RoleSystem:
		header, author = p.system, "System"
	case models.RoleTool:
		header, author = p.tool, "Tool"
	default:
		author = "Assistant"
		header = p.assistant
		if agent := msg.Agent(); agent != "" {
			author = agent
			header = p.palette.Color(agent)
		}
	}

	if msg.Timestamp != "" {
		p.dim.Fprintf(p.w, "[%s] ", msg.Timestamp)
	}
	header.Fprintf(p.w, "%s:\n", author)

	body := strings.TrimRight(models.RenderMessage(msg, false), " \n")
	if msg.Role == models.RoleSystem {
		p.system.Fprintln(p.w, body)
	} else {
		fmt.Fprintln(p.w, body)
	}
	fmt.Fprintln(p.w)
}

// Messages prints msgs in order.
func (p *Printer) Messages(msgs []models.Message) {
	for _, msg := range msgs {
		p.Message(msg)
	}
}

// Summaries prints a numbered chat list, marking the active chat.
func (p *Printer) Summaries(summaries []models.ChatSummary, activeID string) {
	if len(summaries) == 0 {
		p.dim.Fprintln(p.w, "No chats yet.")
		return
	}
	for i, s := range summaries {
		marker := " "
		if s.ID == activeID {
			marker = "*"
		}
		fmt.Fprintf(p.w, "%s %2d. %s ", marker, i+1, s.Title)
		p.dim.Fprintf(p.w, "(%d messages, %s)", s.MessageCount, s.LastUpdated.Local().Format("2006-01-02 15:04"))
		fmt.Fprintln(p.w)
		if s.LastMessage != "" {
			p.dim.Fprintf(p.w, "      %s\n", s.LastMessage)
		}
	}
}

// Notice prints a dimmed informational line.
func (p *Printer) Notice(format string, a ...any) {
	p.dim.Fprintf(p.w, format+"\n", a...)
}

// WriteMarkdown exports msgs as a markdown document. Tool input and output is folded into <details> blocks.
func WriteMarkdown(w io.Writer, title string, msgs []models.Message) error {
	var sb strings.Builder
	if title != "" {
		sb.WriteString("# " + title + "\n\n")
	}
	for _, msg := range msgs {
		author := string(msg.Role)
		if agent := msg.Agent(); agent != "" {
			author = agent
		}
		sb.WriteString(fmt.Sprintf("**%s**", author))
		if msg.Timestamp != "" {
			sb.WriteString(fmt.Sprintf(" _%s_", msg.Timestamp))
		}
		sb.WriteString("  \n")
		sb.WriteString(models.RenderMessage(msg, true))
		sb.WriteString("\n\n")
	}
	if _, err := io.WriteString(w, sb.String()); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	return nil
}
