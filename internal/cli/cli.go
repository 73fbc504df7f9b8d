// Package cli runs a conversation session as an interactive terminal chat.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"foundrychat/internal/agent"
	"foundrychat/internal/logger"
)

const (
	Title      = "🤖 Azure AI Foundry Chat Bot"
	Usage      = "Type 'quit' to exit, 'reset' to start a new conversation, or 'history' to see conversation history"
	ConfigHint = "Please check your Azure AI Foundry configuration and try again."
)

// Commands recognised at the prompt, compared case-insensitively
const (
	CmdQuit    = "quit"
	CmdReset   = "reset"
	CmdHistory = "history"
)

var (
	userLabel = color.New(color.FgHiBlue)
	botLabel  = color.New(color.FgHiMagenta)
	errLabel  = color.New(color.FgRed)
)

// Config holds the streams and limits of a chat
type Config struct {
	In  io.Reader
	Out io.Writer
	// MaxSessionDuration ends the chat once exceeded. Zero means no limit.
	MaxSessionDuration time.Duration
}

// Chat drives a Conversation from line-oriented input
type Chat struct {
	conv        agent.Conversation
	scanner     *bufio.Scanner
	out         io.Writer
	maxDuration time.Duration
}

// New creates a Chat over conv
func New(conv agent.Conversation, config Config) *Chat {
	return &Chat{
		conv:        conv,
		scanner:     bufio.NewScanner(config.In),
		out:         config.Out,
		maxDuration: config.MaxSessionDuration,
	}
}

// Run prints the banner, initializes the conversation and serves prompts
// until quit, end of input, the session limit or ctx cancellation. An
// initialization failure is shown to the user and returned.
func (c *Chat) Run(ctx context.Context) error {
	log := logger.Get()

	fmt.Fprintln(c.out, Title)
	fmt.Fprintln(c.out, Usage)
	fmt.Fprintln(c.out, strings.Repeat("-", 50))

	if err := c.conv.Initialize(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to initialize chat bot")
		errLabel.Fprintf(c.out, "❌ Error: %v\n", err)
		fmt.Fprintln(c.out, ConfigHint)
		return err
	}
	fmt.Fprintln(c.out, "✅ Chat bot initialized successfully!")

	started := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if c.maxDuration > 0 && time.Since(started) > c.maxDuration {
			log.Warn().
				Dur("sessionDuration", time.Since(started)).
				Dur("limit", c.maxDuration).
				Msg("Session time limit reached. Please restart the chat if needed.")
			return nil
		}

		input, ok := c.readUserInput()
		if !ok {
			return nil
		}

		switch strings.ToLower(input) {
		case CmdQuit:
			fmt.Fprintln(c.out, "👋 Goodbye!")
			return nil
		case CmdReset:
			c.conv.Reset(ctx)
			fmt.Fprintln(c.out, "🔄 Conversation reset!")
			continue
		case CmdHistory:
			c.printHistory(ctx)
			continue
		case "":
			continue
		}

		botLabel.Fprint(c.out, "🤖 Bot")
		fmt.Fprint(c.out, ": ")
		fmt.Fprintln(c.out, c.conv.SubmitTurn(ctx, input))
	}
}

// readUserInput prompts for one line. Returns false when input is exhausted.
func (c *Chat) readUserInput() (string, bool) {
	fmt.Fprint(c.out, "\n")
	userLabel.Fprint(c.out, "You")
	fmt.Fprint(c.out, ": ")

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			logger.Get().Error().Err(err).Msg("Failed to read user input")
		}
		return "", false
	}
	return strings.TrimSpace(c.scanner.Text()), true
}

func (c *Chat) printHistory(ctx context.Context) {
	fmt.Fprintln(c.out, "\n📜 Conversation History:")
	for _, entry := range c.conv.History(ctx) {
		fmt.Fprintln(c.out, FormatEntry(entry))
	}
}

// FormatEntry renders a history entry as a role-tagged line
func FormatEntry(entry agent.HistoryEntry) string {
	emoji := "👤"
	if entry.Role == agent.RoleAssistant {
		emoji = "🤖"
	}
	role := string(entry.Role)
	if role != "" {
		role = strings.ToUpper(role[:1]) + role[1:]
	}
	return fmt.Sprintf("%s %s: %s", emoji, role, entry.Text)
}
