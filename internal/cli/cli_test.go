package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foundrychat/internal/agent"
	"foundrychat/internal/agent/agenttest"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func newChat(svc agent.Service, input string, maxDuration time.Duration) (*Chat, *bytes.Buffer) {
	session := agent.New(agent.Config{
		Service: svc,
		Definition: agent.AgentDefinition{
			Model:        "gpt-4",
			Name:         "ChatBot Assistant",
			Instructions: "You are a helpful AI assistant.",
		},
	})
	out := &bytes.Buffer{}
	return New(session, Config{In: strings.NewReader(input), Out: out, MaxSessionDuration: maxDuration}), out
}

func TestRunConversation(t *testing.T) {
	svc := agenttest.NewService()
	chat, out := newChat(svc, "Hello\n\n   \nHISTORY\nReset\nhistory\nquit\nnever sent\n", 0)

	require.NoError(t, chat.Run(context.Background()))

	text := out.String()
	assert.True(t, strings.HasPrefix(text, Title+"\n"+Usage+"\n"))
	assert.Contains(t, text, "✅ Chat bot initialized successfully!")
	assert.Contains(t, text, "🤖 Bot: echo: Hello\n")
	assert.Contains(t, text, "👤 User: Hello\n🤖 Assistant: echo: Hello\n")
	assert.Contains(t, text, "🔄 Conversation reset!")
	assert.True(t, strings.HasSuffix(text, "👋 Goodbye!\n"))

	// the second history listing follows the reset and is empty
	last := text[strings.LastIndex(text, "📜 Conversation History:"):]
	assert.NotContains(t, last, "User:")

	assert.Equal(t, 1, svc.Calls(agenttest.OpAppendMessage), "blank lines and commands are not sent")
	assert.Equal(t, 2, svc.Calls(agenttest.OpCreateThread))
}

func TestRunStopsAtEndOfInput(t *testing.T) {
	svc := agenttest.NewService()
	chat, out := newChat(svc, "Hello", 0)

	require.NoError(t, chat.Run(context.Background()))
	assert.Contains(t, out.String(), "echo: Hello")
	assert.NotContains(t, out.String(), "Goodbye")
}

func TestRunInitializationFailure(t *testing.T) {
	svc := agenttest.NewService()
	svc.Fail(agenttest.OpCreateAgent, errors.New("unauthorized"))
	chat, out := newChat(svc, "Hello\n", 0)

	err := chat.Run(context.Background())
	require.Error(t, err)

	assert.Contains(t, out.String(), "❌ Error: create agent: unauthorized\n"+ConfigHint)
	assert.Equal(t, 0, svc.Calls(agenttest.OpAppendMessage))
}

func TestRunReportsTurnErrorsAndContinues(t *testing.T) {
	svc := agenttest.NewService()
	svc.Script = []agent.RunStatus{agent.RunFailed}
	chat, out := newChat(svc, "first\nsecond\nquit\n", 0)

	require.NoError(t, chat.Run(context.Background()))

	failure := "🤖 Bot: Sorry, there was an error processing your request. Status: failed\n"
	assert.Equal(t, 2, strings.Count(out.String(), failure))
}

func TestRunSessionTimeLimit(t *testing.T) {
	svc := agenttest.NewService()
	chat, _ := newChat(svc, "Hello\n", time.Nanosecond)

	require.NoError(t, chat.Run(context.Background()))
	assert.Equal(t, 0, svc.Calls(agenttest.OpAppendMessage))
}

func TestRunCancelledContext(t *testing.T) {
	svc := agenttest.NewService()
	chat, _ := newChat(svc, "Hello\n", 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Initialize does not block on the scripted service, the loop then exits
	require.NoError(t, chat.Run(ctx))
	assert.Equal(t, 0, svc.Calls(agenttest.OpAppendMessage))
}

func TestFormatEntry(t *testing.T) {
	assert.Equal(t, "👤 User: hi", FormatEntry(agent.HistoryEntry{Role: agent.RoleUser, Text: "hi"}))
	assert.Equal(t, "🤖 Assistant: hello", FormatEntry(agent.HistoryEntry{Role: agent.RoleAssistant, Text: "hello"}))
}
