package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecrew-dev/codecrew/bus"
	"github.com/codecrew-dev/codecrew/config"
	"github.com/codecrew-dev/codecrew/core"
	"github.com/codecrew-dev/codecrew/model"
	"github.com/codecrew-dev/codecrew/tool"
)

func agentConfig(t *testing.T, raw string) *config.Agent {
	t.Helper()
	cfg, err := config.Parse([]byte(raw))
	require.NoError(t, err)
	return cfg
}

const analystConfig = `{
	"name": "Analyst",
	"is_first": true,
	"prompt_template": "Request: {user_input}",
	"allowed_senders": ["User", "Designer"],
	"response_handlers": {
		"forward to designer": [{"target": "Designer", "session": "clear"}],
		"report to user": [{"target": "User", "session": "clear"}]
	}
}`

func capture(t *testing.T, b core.Bus, recipient string) chan *core.Message {
	t.Helper()
	ch := make(chan *core.Message, 16)
	unsubscribe := b.Subscribe(recipient, func(msg *core.Message) { ch <- msg })
	t.Cleanup(unsubscribe)
	return ch
}

func receive(t *testing.T, ch chan *core.Message) *core.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func startAgent(t *testing.T, a *Agent) {
	t.Helper()
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Stop() })
}

func TestAgentAnswersRequestWithSessionID(t *testing.T) {
	b := bus.New()
	t.Cleanup(b.Close)

	completer := model.NewMock(core.NewTextResponse("report to user\nthe analysis is done"))
	a := New(agentConfig(t, analystConfig), b, completer, tool.NewRegistry())
	startAgent(t, a)

	userCh := capture(t, b, core.RecipientUser)
	b.Publish(core.NewMessage("User", "Analyst", "analyze this", core.MessageTypeTaskRequest))

	out := receive(t, userCh)
	assert.Equal(t, "Analyst", out.Sender)
	assert.Equal(t, core.MessageTypeTaskResponse, out.Type)
	assert.Equal(t, "the analysis is done", out.Content)

	sid, ok := out.MetaString(core.MetaSessionID)
	require.True(t, ok)
	assert.Regexp(t, `^User_\d+_[0-9a-f]{4}$`, sid)
}

func TestAgentForwardsToNextAgent(t *testing.T) {
	b := bus.New()
	t.Cleanup(b.Close)

	completer := model.NewMock(core.NewTextResponse(
		"forward to designer\nROUTE_TO_AGENT:Designer\nrequirements attached"))
	a := New(agentConfig(t, analystConfig), b, completer, tool.NewRegistry())
	startAgent(t, a)

	designerCh := capture(t, b, "Designer")
	b.Publish(core.NewMessage("User", "Analyst", "analyze this", core.MessageTypeTaskRequest))

	forwarded := receive(t, designerCh)
	assert.Equal(t, core.MessageTypeTaskRequest, forwarded.Type)
	src, _ := forwarded.MetaString(core.MetaSourceAgent)
	assert.Equal(t, "Analyst", src)
	orig, _ := forwarded.MetaString(core.MetaOriginalSender)
	assert.Equal(t, "User", orig)

	// Handoff with "clear" completes the analyst's session.
	sid, _ := forwarded.MetaString(core.MetaSessionID)
	sess, ok := a.Sessions().Get(sid)
	require.True(t, ok)
	assert.False(t, sess.IsActive())
}

func TestAgentRejectsUnauthorizedSender(t *testing.T) {
	b := bus.New()
	t.Cleanup(b.Close)

	completer := model.NewMock()
	a := New(agentConfig(t, analystConfig), b, completer, tool.NewRegistry())
	startAgent(t, a)

	intruderCh := capture(t, b, "Intruder")
	b.Publish(core.NewMessage("Intruder", "Analyst", "let me in", core.MessageTypeTaskRequest))

	rejection := receive(t, intruderCh)
	assert.Equal(t, core.MessageTypeTaskResponse, rejection.Type)
	assert.Contains(t, rejection.Content, "not authorized")
	assert.Equal(t, true, rejection.Metadata[core.MetaRejected])

	// The pipeline never ran: no completion call, no session.
	assert.Equal(t, 0, completer.Calls())
	assert.Equal(t, 0, a.Sessions().Count())
}

func TestAgentIgnoresNonProcessableTypes(t *testing.T) {
	b := bus.New()
	t.Cleanup(b.Close)

	completer := model.NewMock()
	a := New(agentConfig(t, analystConfig), b, completer, tool.NewRegistry())
	startAgent(t, a)

	b.Publish(core.NewMessage("User", "Analyst", "ignore me", core.MessageTypeTaskResponse))
	b.Publish(core.NewMessage("User", "Analyst", "ignore me too", core.MessageTypeFolderRefresh))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, completer.Calls())
}

func TestAgentSessionContinuityAcrossTurns(t *testing.T) {
	b := bus.New()
	t.Cleanup(b.Close)

	completer := model.NewMock(
		core.NewTextResponse("Do you want me to include tests?"),
		core.NewTextResponse("report to user\ndone, with tests"),
	)
	a := New(agentConfig(t, analystConfig), b, completer, tool.NewRegistry())
	startAgent(t, a)

	userCh := capture(t, b, core.RecipientUser)

	// Turn one: no handler matches and the content reads like a confirmation
	// question, so the session is pinned and a fallback reply is sent.
	b.Publish(core.NewMessage("User", "Analyst", "analyze this", core.MessageTypeTaskRequest))
	first := receive(t, userCh)
	sid, ok := first.MetaString(core.MetaSessionID)
	require.True(t, ok)
	assert.True(t, a.Sessions().IsAwaitingConfirmation(sid))

	// Turn two: the reply carries the session id; the pin clears and the
	// routed answer completes the session.
	reply := core.NewMessage("User", "Analyst", "yes, include tests", core.MessageTypeTaskRequest)
	reply.SetMeta(core.MetaSessionID, sid)
	b.Publish(reply)

	second := receive(t, userCh)
	assert.Equal(t, "done, with tests", second.Content)
	sid2, _ := second.MetaString(core.MetaSessionID)
	assert.Equal(t, sid, sid2)
	assert.False(t, a.Sessions().IsAwaitingConfirmation(sid))

	sess, ok := a.Sessions().Get(sid)
	require.True(t, ok)
	assert.False(t, sess.IsActive())
}

func TestAgentCompletionFailureProducesErrorReply(t *testing.T) {
	b := bus.New()
	t.Cleanup(b.Close)

	completer := model.NewMock()
	completer.Err = assert.AnError
	a := New(agentConfig(t, analystConfig), b, completer, tool.NewRegistry())
	startAgent(t, a)

	userCh := capture(t, b, core.RecipientUser)
	b.Publish(core.NewMessage("User", "Analyst", "analyze this", core.MessageTypeTaskRequest))

	out := receive(t, userCh)
	assert.Contains(t, out.Content, "completion request failed")
	errMeta, ok := out.MetaString(core.MetaError)
	require.True(t, ok)
	assert.Contains(t, errMeta, "completion request failed")

	// The failed session is force-completed.
	sid, _ := out.MetaString(core.MetaSessionID)
	sess, ok := a.Sessions().Get(sid)
	require.True(t, ok)
	assert.False(t, sess.IsActive())
}

func TestAgentListenersObserveTraffic(t *testing.T) {
	b := bus.New()
	t.Cleanup(b.Close)

	completer := model.NewMock(core.NewTextResponse("report to user\nok"))
	a := New(agentConfig(t, analystConfig), b, completer, tool.NewRegistry())

	var mu sync.Mutex
	var received, sent []*core.Message
	a.OnMessageReceived(func(msg *core.Message) {
		mu.Lock()
		received = append(received, msg)
		mu.Unlock()
	})
	a.OnMessageSent(func(msg *core.Message) {
		mu.Lock()
		sent = append(sent, msg)
		mu.Unlock()
	})
	startAgent(t, a)

	userCh := capture(t, b, core.RecipientUser)
	b.Publish(core.NewMessage("User", "Analyst", "analyze", core.MessageTypeTaskRequest))
	receive(t, userCh)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "analyze", received[0].Content)
	require.Len(t, sent, 1)
	assert.Equal(t, "ok", sent[0].Content)

	assert.NotEmpty(t, a.Transcript())
}

func TestAgentStartStopLifecycle(t *testing.T) {
	b := bus.New()
	t.Cleanup(b.Close)

	a := New(agentConfig(t, analystConfig), b, model.NewMock(), tool.NewRegistry())

	require.NoError(t, a.Start(context.Background()))
	assert.Error(t, a.Start(context.Background()))

	require.NoError(t, a.Stop())
	assert.Error(t, a.Stop())

	// Restart works after a clean stop.
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Stop())
}

func TestAgentProcessesAfterRestart(t *testing.T) {
	b := bus.New()
	t.Cleanup(b.Close)

	completer := model.NewMock(
		core.NewTextResponse("report to user\nfirst run"),
		core.NewTextResponse("report to user\nsecond run"),
	)
	a := New(agentConfig(t, analystConfig), b, completer, tool.NewRegistry())

	userCh := capture(t, b, core.RecipientUser)

	require.NoError(t, a.Start(context.Background()))
	b.Publish(core.NewMessage("User", "Analyst", "one", core.MessageTypeTaskRequest))
	assert.Equal(t, "first run", receive(t, userCh).Content)
	require.NoError(t, a.Stop())

	// Processing after a restart uses the new lifetime context.
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Stop() })
	b.Publish(core.NewMessage("User", "Analyst", "two", core.MessageTypeTaskRequest))
	assert.Equal(t, "second run", receive(t, userCh).Content)
}

func TestAgentSingleFlightSerializesProcessing(t *testing.T) {
	b := bus.New()
	t.Cleanup(b.Close)

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0

	completer := model.NewMock()
	completer.CompleteFn = func(ctx context.Context, conv []core.ChatMessage, services []string) (*core.ToolCallResponse, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return core.NewTextResponse("report to user\nok"), nil
	}

	a := New(agentConfig(t, analystConfig), b, completer, tool.NewRegistry(),
		func(o *Options) { o.SingleFlight = true })
	startAgent(t, a)

	userCh := capture(t, b, core.RecipientUser)
	for i := 0; i < 4; i++ {
		b.Publish(core.NewMessage("User", "Analyst", "task", core.MessageTypeTaskRequest))
	}
	for i := 0; i < 4; i++ {
		receive(t, userCh)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxInFlight)
}
