// Package console is the terminal side of a support conversation. It
// implements capability.UserChannel on top of a reader and a writer, with
// huh forms and glamour rendering when both ends are a terminal and plain
// line I/O otherwise.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"supportflow/pkg/capability"
)

const defaultWrap = 80


// Console is a capability.UserChannel. One Console serves one session at a
// time.
type Console struct {
	in          io.Reader
	out         io.Writer
	interactive bool
	markdown    *glamour.TermRenderer

	startReader sync.Once
	lines       chan string
	readErr     error // set before lines is closed

	prompt     lipgloss.Style
	notice     lipgloss.Style
	escalation lipgloss.Style
	question   lipgloss.Style
}

// Option customises a Console.
type Option func(*Console)

// WithInteractive forces interactive (huh + glamour) mode on or off.
func WithInteractive(on bool) Option {
	return func(c *Console) { c.interactive = on }
}

// New returns a console on in and out. Interactive mode is on when both are
// terminals.
func New(in io.Reader, out io.Writer, opts ...Option) *Console {
	c := &Console{
		in:          in,
		out:         out,
		interactive: isTerminal(in) && isTerminal(out),
		lines:       make(chan string),
		prompt:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")),
		notice:      lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		escalation:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")),
		question:    lipgloss.NewStyle().Bold(true),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.interactive {
		width := defaultWrap
		if f, ok := out.(*os.File); ok {
			if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 20 {
				width = min(w-4, 100)
			}
		}
		if r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width)); err == nil {
			c.markdown = r
		}
	} else {
		for _, s := range []*lipgloss.Style{&c.prompt, &c.notice, &c.escalation, &c.question} {
			*s = lipgloss.NewStyle()
		}
	}
	return c
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Interactive reports whether the console uses terminal widgets.
func (c *Console) Interactive() bool { return c.interactive }

// Ask prints prompt and reads one line. End of input means the user left.
func (c *Console) Ask(ctx context.Context, prompt string) (string, error) {
	if c.interactive {
		var reply string
		err := c.run(ctx, huh.NewInput().Title(prompt).Value(&reply))
		return strings.TrimSpace(reply), err
	}
	if _, err := fmt.Fprintf(c.out, "\n%s\n> ", c.prompt.Render(prompt)); err != nil {
		return "", err
	}
	return c.readLine(ctx)
}

// run shows a one-field form. The plain line reader is never started in
// interactive mode, so huh owns the input.
func (c *Console) run(ctx context.Context, field huh.Field) error {
	form := huh.NewForm(huh.NewGroup(field)).WithInput(c.in).WithOutput(c.out)
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return capability.ErrAbandoned
		}
		return fmt.Errorf("terminal form: %w", err)
	}
	return nil
}

// SelectProduct offers candidates. Interactively it is a huh select; in plain
// mode the user types a number or a name.
func (c *Console) SelectProduct(ctx context.Context, candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", errors.New("no products to choose from")
	}
	if c.interactive {
		return c.selectInteractive(ctx, candidates)
	}

	var b strings.Builder
	b.WriteString("\nDid you mean one of these?\n")
	for i, name := range candidates {
		fmt.Fprintf(&b, "  %d) %s\n", i+1, name)
	}
	b.WriteString("> ")
	if _, err := io.WriteString(c.out, b.String()); err != nil {
		return "", err
	}

	reply, err := c.readLine(ctx)
	if err != nil {
		return "", err
	}
	if n, convErr := strconv.Atoi(reply); convErr == nil {
		if n < 1 || n > len(candidates) {
			return "", fmt.Errorf("choice %d out of range: %w", n, capability.ErrMalformedOutput)
		}
		return candidates[n-1], nil
	}
	return reply, nil
}

func (c *Console) selectInteractive(ctx context.Context, candidates []string) (string, error) {
	var choice string
	err := c.run(ctx, huh.NewSelect[string]().
		Title("Did you mean one of these?").
		Options(huh.NewOptions(candidates...)...).
		Value(&choice))
	return choice, err
}

// Show prints a message styled by its kind. Answers are rendered as markdown
// in interactive mode.
func (c *Console) Show(_ context.Context, kind capability.MessageKind, text string) error {
	var rendered string
	switch kind {
	case capability.MessageAnswer:
		rendered = text
		if c.markdown != nil {
			if md, err := c.markdown.Render(text); err == nil {
				rendered = md
			}
		}
	case capability.MessageEscalation:
		rendered = c.escalation.Render(text)
	case capability.MessageQuestion:
		rendered = c.question.Render(text)
	default:
		rendered = c.notice.Render(text)
	}
	_, err := fmt.Fprintf(c.out, "\n%s\n", strings.TrimRight(rendered, "\n"))
	return err
}

// readLine waits for the next input line or for ctx. Lines are read by a
// single goroutine so that a cancelled Ask does not lose the next one.
func (c *Console) readLine(ctx context.Context) (string, error) {
	c.startReader.Do(func() { go c.readLoop() })
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case text, ok := <-c.lines:
		if !ok {
			return "", c.readErr
		}
		return text, nil
	}
}

func (c *Console) readLoop() {
	defer close(c.lines)
	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		c.lines <- strings.TrimSpace(scanner.Text())
	}
	c.readErr = scanner.Err()
	if c.readErr == nil {
		c.readErr = io.EOF
	}
}
