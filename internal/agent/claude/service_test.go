package claude

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foundrychat/internal/agent"
)

// fakeMessenger answers with a fixed text once release is closed
type fakeMessenger struct {
	mu      sync.Mutex
	calls   []anthropic.MessageNewParams
	release chan struct{}
	reply   string
	err     error
}

func newFakeMessenger(reply string) *fakeMessenger {
	return &fakeMessenger{release: make(chan struct{}), reply: reply}
}

func (f *fakeMessenger) New(ctx context.Context, body anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	f.mu.Lock()
	f.calls = append(f.calls, body)
	f.mu.Unlock()

	select {
	case <-f.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{{Type: "text", Text: f.reply}},
	}, nil
}

func (f *fakeMessenger) lastCall() anthropic.MessageNewParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

var definition = agent.AgentDefinition{
	Model:        DefaultModel,
	Name:         "ChatBot Assistant",
	Instructions: "You are a helpful AI assistant.",
}

func setup(t *testing.T, svc *Service) (agent.Agent, agent.Thread) {
	t.Helper()
	ctx := context.Background()
	a, err := svc.CreateAgent(ctx, definition)
	require.NoError(t, err)
	th, err := svc.CreateThread(ctx)
	require.NoError(t, err)
	return a, th
}

func waitForStatus(t *testing.T, svc *Service, threadID, runID string, want agent.RunStatus) agent.Run {
	t.Helper()
	var run agent.Run
	require.Eventually(t, func() bool {
		var err error
		run, err = svc.GetRun(context.Background(), threadID, runID)
		return err == nil && run.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return run
}

func TestRunLifecycle(t *testing.T) {
	messenger := newFakeMessenger("Hi there!")
	svc := New(Config{Messenger: messenger})
	a, th := setup(t, svc)
	ctx := context.Background()

	_, err := svc.AppendMessage(ctx, th.ID, agent.RoleUser, "Hello")
	require.NoError(t, err)

	run, err := svc.StartRun(ctx, th.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.RunQueued, run.Status)

	waitForStatus(t, svc, th.ID, run.ID, agent.RunInProgress)
	close(messenger.release)
	waitForStatus(t, svc, th.ID, run.ID, agent.RunCompleted)

	messages, err := svc.ListMessages(ctx, th.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, agent.RoleAssistant, messages[1].Role)
	text, _ := messages[1].FirstText()
	assert.Equal(t, "Hi there!", text)
	assert.True(t, messages[1].CreatedAt.After(messages[0].CreatedAt))

	params := messenger.lastCall()
	assert.Equal(t, int64(DefaultMaxTokens), params.MaxTokens)
	require.Len(t, params.Messages, 1)
	require.Len(t, params.System, 1)
	assert.Equal(t, definition.Instructions, params.System[0].Text)
}

func TestRunRejectsConcurrentRunOnThread(t *testing.T) {
	messenger := newFakeMessenger("ok")
	svc := New(Config{Messenger: messenger})
	a, th := setup(t, svc)
	ctx := context.Background()

	_, err := svc.AppendMessage(ctx, th.ID, agent.RoleUser, "Hello")
	require.NoError(t, err)
	run, err := svc.StartRun(ctx, th.ID, a.ID)
	require.NoError(t, err)

	_, err = svc.StartRun(ctx, th.ID, a.ID)
	var active *ErrActiveRun
	require.ErrorAs(t, err, &active)
	assert.Equal(t, run.ID, active.RunID)

	_, err = svc.AppendMessage(ctx, th.ID, agent.RoleUser, "again")
	require.ErrorAs(t, err, &active)

	close(messenger.release)
	svc.Wait()

	_, err = svc.AppendMessage(ctx, th.ID, agent.RoleUser, "again")
	require.NoError(t, err)
}

func TestRunFailure(t *testing.T) {
	messenger := newFakeMessenger("")
	messenger.err = errors.New("overloaded_error")
	close(messenger.release)
	svc := New(Config{Messenger: messenger})
	a, th := setup(t, svc)

	run, err := svc.StartRun(context.Background(), th.ID, a.ID)
	require.NoError(t, err)
	svc.Wait()

	run, err = svc.GetRun(context.Background(), th.ID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.RunFailed, run.Status)
	assert.Contains(t, run.LastError, "overloaded_error")
}

func TestRunExpires(t *testing.T) {
	messenger := newFakeMessenger("never")
	svc := New(Config{Messenger: messenger, RunTimeout: 20 * time.Millisecond})
	a, th := setup(t, svc)

	run, err := svc.StartRun(context.Background(), th.ID, a.ID)
	require.NoError(t, err)
	svc.Wait()

	run, err = svc.GetRun(context.Background(), th.ID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.RunExpired, run.Status)
}

func TestRunSurvivesCallerCancellation(t *testing.T) {
	messenger := newFakeMessenger("done")
	svc := New(Config{Messenger: messenger})
	a, th := setup(t, svc)

	ctx, cancel := context.WithCancel(context.Background())
	run, err := svc.StartRun(ctx, th.ID, a.ID)
	require.NoError(t, err)
	cancel()
	close(messenger.release)
	svc.Wait()

	run, err = svc.GetRun(context.Background(), th.ID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.RunCompleted, run.Status)
}

func TestCreateAgentIsIdempotent(t *testing.T) {
	svc := New(Config{Messenger: newFakeMessenger("")})

	first, err := svc.CreateAgent(context.Background(), definition)
	require.NoError(t, err)
	second, err := svc.CreateAgent(context.Background(), definition)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
}

func TestUnknownHandles(t *testing.T) {
	svc := New(Config{Messenger: newFakeMessenger("")})
	_, th := setup(t, svc)
	ctx := context.Background()

	_, err := svc.AppendMessage(ctx, "thread_missing", agent.RoleUser, "hi")
	require.ErrorIs(t, err, ErrThreadNotFound)

	_, err = svc.StartRun(ctx, th.ID, "asst_missing")
	require.ErrorIs(t, err, ErrAgentNotFound)

	_, err = svc.GetRun(ctx, th.ID, "run_missing")
	require.ErrorIs(t, err, ErrRunNotFound)

	_, err = svc.ListMessages(ctx, "thread_missing")
	require.ErrorIs(t, err, ErrThreadNotFound)
}

func TestSessionOverInProcessService(t *testing.T) {
	messenger := newFakeMessenger("Hi there!")
	close(messenger.release)
	svc := New(Config{Messenger: messenger})

	session := agent.New(agent.Config{
		Service:    svc,
		Definition: definition,
		Backoff:    agent.Backoff{Initial: time.Millisecond, Max: 8 * time.Millisecond},
	})
	require.NoError(t, session.Initialize(context.Background()))

	assert.Equal(t, "Hi there!", session.SubmitTurn(context.Background(), "Hello"))
	assert.Equal(t, "Hi there!", session.SubmitTurn(context.Background(), "Again"))

	params := messenger.lastCall()
	assert.Len(t, params.Messages, 3, "second run sees user, assistant, user")
}

func TestIdleThreadsAreDiscarded(t *testing.T) {
	messenger := newFakeMessenger("done")
	close(messenger.release)
	svc := New(Config{Messenger: messenger, Retention: time.Hour})
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	ctx := context.Background()

	a, stale := setup(t, svc)
	_, err := svc.AppendMessage(ctx, stale.ID, agent.RoleUser, "Hello")
	require.NoError(t, err)
	run, err := svc.StartRun(ctx, stale.ID, a.ID)
	require.NoError(t, err)
	svc.Wait()

	now = now.Add(30 * time.Minute)
	recent, err := svc.CreateThread(ctx)
	require.NoError(t, err)

	now = now.Add(45 * time.Minute)
	_, err = svc.CreateThread(ctx)
	require.NoError(t, err)

	_, err = svc.ListMessages(ctx, stale.ID)
	require.ErrorIs(t, err, ErrThreadNotFound)
	_, err = svc.GetRun(ctx, stale.ID, run.ID)
	require.ErrorIs(t, err, ErrRunNotFound)

	_, err = svc.ListMessages(ctx, recent.ID)
	require.NoError(t, err)
}

func TestBusyThreadIsKept(t *testing.T) {
	messenger := newFakeMessenger("slow")
	svc := New(Config{Messenger: messenger, Retention: time.Hour})
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	svc.mu.Lock()
	svc.now = func() time.Time { return now }
	svc.mu.Unlock()
	ctx := context.Background()

	a, th := setup(t, svc)
	run, err := svc.StartRun(ctx, th.ID, a.ID)
	require.NoError(t, err)

	svc.mu.Lock()
	now = now.Add(2 * time.Hour)
	svc.mu.Unlock()
	_, err = svc.CreateThread(ctx)
	require.NoError(t, err)

	_, err = svc.GetRun(ctx, th.ID, run.ID)
	require.NoError(t, err)

	close(messenger.release)
	svc.Wait()
}

func TestOnlyLatestRunIsKept(t *testing.T) {
	messenger := newFakeMessenger("ok")
	close(messenger.release)
	svc := New(Config{Messenger: messenger})
	a, th := setup(t, svc)
	ctx := context.Background()

	first, err := svc.StartRun(ctx, th.ID, a.ID)
	require.NoError(t, err)
	svc.Wait()
	second, err := svc.StartRun(ctx, th.ID, a.ID)
	require.NoError(t, err)
	svc.Wait()

	_, err = svc.GetRun(ctx, th.ID, first.ID)
	require.ErrorIs(t, err, ErrRunNotFound)
	_, err = svc.GetRun(ctx, th.ID, second.ID)
	require.NoError(t, err)
}
