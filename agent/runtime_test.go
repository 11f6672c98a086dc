package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/questweaver/questweaver/bus"
	"github.com/questweaver/questweaver/types"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

// scriptedExecutor is a hand-written mock implementing Executor.
type scriptedExecutor struct {
	id      string
	typ     string
	caps    []types.Capability
	execute func(ctx context.Context, action string, params map[string]any) (any, error)
}

func (s *scriptedExecutor) ID() string                       { return s.id }
func (s *scriptedExecutor) Type() string                     { return s.typ }
func (s *scriptedExecutor) Capabilities() []types.Capability { return s.caps }
func (s *scriptedExecutor) Execute(ctx context.Context, action string, params map[string]any) (any, error) {
	return s.execute(ctx, action, params)
}

// fakeBus records registrations and outbound messages; tests drive handlers
// directly.
type fakeBus struct {
	mu           sync.Mutex
	handlers     map[types.MessageKind]bus.Handler
	sent         []types.Message
	unregistered []string
	nextSub      int
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[types.MessageKind]bus.Handler)}
}

func (f *fakeBus) Register(agentID string, kind types.MessageKind, handler bus.Handler) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[kind] = handler
	f.nextSub++
	return agentID + "-sub"
}

func (f *fakeBus) Unregister(subscriptionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregistered = append(f.unregistered, subscriptionID)
}

func (f *fakeBus) Send(msg types.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeBus) lastSent(t *testing.T) types.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

// fakeBoard records scheduler interactions.
type fakeBoard struct {
	mu         sync.Mutex
	registered []*types.AgentStatus
	heartbeats int
	tasks      map[string]*types.Task
	completed  map[string]any
	failed     map[string]string
}

func newFakeBoard() *fakeBoard {
	return &fakeBoard{
		tasks:     make(map[string]*types.Task),
		completed: make(map[string]any),
		failed:    make(map[string]string),
	}
}

func (f *fakeBoard) RegisterAgent(status *types.AgentStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, status)
}

func (f *fakeBoard) Heartbeat(agentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	return nil
}

func (f *fakeBoard) Status(taskID string) (*types.Task, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	return task, ok
}

func (f *fakeBoard) Complete(taskID string, result any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[taskID] = result
	return true
}

func (f *fakeBoard) Fail(taskID string, errMsg string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[taskID] = errMsg
	return true
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func newTestRuntime(t *testing.T, exec *scriptedExecutor) (*Runtime, *fakeBus, *fakeBoard) {
	t.Helper()
	fb := newFakeBus()
	board := newFakeBoard()
	rt := NewRuntime(exec, fb, board, Options{HeartbeatInterval: 10 * time.Millisecond}, zap.NewNop())
	require.NoError(t, rt.Start())
	return rt, fb, board
}

func narrator() *scriptedExecutor {
	return &scriptedExecutor{
		id:   "narrator-1",
		typ:  "narrative",
		caps: []types.Capability{{Name: "narrate_scene"}, {Name: "recap_session"}},
		execute: func(ctx context.Context, action string, params map[string]any) (any, error) {
			return "a hush falls over the table", nil
		},
	}
}

// ---------------------------------------------------------------------------
// Start
// ---------------------------------------------------------------------------

func TestRuntime_StartRegistersAgent(t *testing.T) {
	t.Parallel()
	_, fb, board := newTestRuntime(t, narrator())

	require.Len(t, board.registered, 1)
	status := board.registered[0]
	assert.Equal(t, "narrator-1", status.AgentID)
	assert.Equal(t, "narrative", status.Type)
	assert.Equal(t, types.AgentIdle, status.State)

	// One handler per kind the runtime listens on.
	assert.Contains(t, fb.handlers, types.KindRequest)
	assert.Contains(t, fb.handlers, types.KindNotification)
}

func TestRuntime_StartTwiceFails(t *testing.T) {
	t.Parallel()
	rt, _, _ := newTestRuntime(t, narrator())
	err := rt.Start()
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInternal, types.GetErrorCode(err))
}

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

func TestRuntime_RequestGetsCorrelatedResponse(t *testing.T) {
	t.Parallel()
	_, fb, _ := newTestRuntime(t, narrator())

	req := types.NewRequest("gm", "narrator-1", "narrate_scene", map[string]any{"mood": "tense"})
	require.NoError(t, fb.handlers[types.KindRequest](context.Background(), req))

	resp := fb.lastSent(t)
	assert.Equal(t, types.KindResponse, resp.Kind)
	assert.Equal(t, req.ID, resp.CorrelationID)
	assert.Equal(t, "narrator-1", resp.Sender)
	assert.Equal(t, "gm", resp.Recipient)

	content, ok := resp.Content.(types.ResponseContent)
	require.True(t, ok)
	assert.Equal(t, "a hush falls over the table", content.Result)
	assert.Empty(t, content.Err)
}

func TestRuntime_ExecutionErrorTravelsInResponse(t *testing.T) {
	t.Parallel()
	exec := narrator()
	exec.execute = func(ctx context.Context, action string, params map[string]any) (any, error) {
		return nil, errors.New("no inspiration")
	}
	_, fb, _ := newTestRuntime(t, exec)

	req := types.NewRequest("gm", "narrator-1", "narrate_scene", nil)
	// The handler itself succeeds; the failure rides in the response.
	require.NoError(t, fb.handlers[types.KindRequest](context.Background(), req))

	content := fb.lastSent(t).Content.(types.ResponseContent)
	assert.Nil(t, content.Result)
	assert.Equal(t, "no inspiration", content.Err)
}

func TestRuntime_PanickingExecutorAnswersWithError(t *testing.T) {
	t.Parallel()
	exec := narrator()
	exec.execute = func(ctx context.Context, action string, params map[string]any) (any, error) {
		panic("dice rolled off the table")
	}
	_, fb, _ := newTestRuntime(t, exec)

	req := types.NewRequest("gm", "narrator-1", "narrate_scene", nil)
	require.NoError(t, fb.handlers[types.KindRequest](context.Background(), req))

	content := fb.lastSent(t).Content.(types.ResponseContent)
	assert.Contains(t, content.Err, "dice rolled off the table")
}

func TestRuntime_RejectsMalformedRequestContent(t *testing.T) {
	t.Parallel()
	_, fb, _ := newTestRuntime(t, narrator())

	msg := types.Message{ID: "m1", Kind: types.KindRequest, Content: "not a request"}
	err := fb.handlers[types.KindRequest](context.Background(), msg)
	require.Error(t, err)
	assert.Empty(t, fb.sent)
}

// ---------------------------------------------------------------------------
// Task allocations
// ---------------------------------------------------------------------------

func TestRuntime_AllocatedTaskCompletesOnBoard(t *testing.T) {
	t.Parallel()
	_, fb, board := newTestRuntime(t, narrator())

	task := types.NewTask("opening scene", "narrative", types.PriorityHigh, nil)
	task.Action = "narrate_scene"
	board.tasks[task.ID] = task

	notif := types.NewTaskAllocated("scheduler", "narrator-1", task.ID)
	require.NoError(t, fb.handlers[types.KindNotification](context.Background(), notif))

	waitFor(t, func() bool {
		board.mu.Lock()
		defer board.mu.Unlock()
		_, done := board.completed[task.ID]
		return done
	})
	assert.Equal(t, "a hush falls over the table", board.completed[task.ID])
}

func TestRuntime_FailedTaskReportsFailure(t *testing.T) {
	t.Parallel()
	exec := narrator()
	exec.execute = func(ctx context.Context, action string, params map[string]any) (any, error) {
		return nil, errors.New("scene contradicts canon")
	}
	_, fb, board := newTestRuntime(t, exec)

	task := types.NewTask("opening scene", "narrative", types.PriorityHigh, nil)
	board.tasks[task.ID] = task

	notif := types.NewTaskAllocated("scheduler", "narrator-1", task.ID)
	require.NoError(t, fb.handlers[types.KindNotification](context.Background(), notif))

	waitFor(t, func() bool {
		board.mu.Lock()
		defer board.mu.Unlock()
		return board.failed[task.ID] != ""
	})
	assert.Equal(t, "scene contradicts canon", board.failed[task.ID])
}

func TestRuntime_TaskNameDoublesAsAction(t *testing.T) {
	t.Parallel()
	var gotAction string
	var mu sync.Mutex
	exec := narrator()
	exec.execute = func(ctx context.Context, action string, params map[string]any) (any, error) {
		mu.Lock()
		gotAction = action
		mu.Unlock()
		return nil, nil
	}
	_, fb, board := newTestRuntime(t, exec)

	task := types.NewTask("recap_session", "narrative", types.PriorityLow, nil)
	board.tasks[task.ID] = task
	notif := types.NewTaskAllocated("scheduler", "narrator-1", task.ID)
	require.NoError(t, fb.handlers[types.KindNotification](context.Background(), notif))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotAction == "recap_session"
	})
}

func TestRuntime_UnknownTaskIgnored(t *testing.T) {
	t.Parallel()
	_, fb, board := newTestRuntime(t, narrator())

	notif := types.NewTaskAllocated("scheduler", "narrator-1", "ghost")
	require.NoError(t, fb.handlers[types.KindNotification](context.Background(), notif))

	board.mu.Lock()
	defer board.mu.Unlock()
	assert.Empty(t, board.completed)
	assert.Empty(t, board.failed)
}

func TestRuntime_ForeignNotificationIgnored(t *testing.T) {
	t.Parallel()
	_, fb, board := newTestRuntime(t, narrator())

	notif := types.NewNotification("gm", "narrator-1", types.NotificationContent{Action: "session_paused"})
	require.NoError(t, fb.handlers[types.KindNotification](context.Background(), notif))

	board.mu.Lock()
	defer board.mu.Unlock()
	assert.Empty(t, board.completed)
}

// ---------------------------------------------------------------------------
// Heartbeats and shutdown
// ---------------------------------------------------------------------------

func TestRuntime_RunHeartbeatsUntilCancelled(t *testing.T) {
	t.Parallel()
	rt, fb, board := newTestRuntime(t, narrator())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rt.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool {
		board.mu.Lock()
		defer board.mu.Unlock()
		return board.heartbeats >= 2
	})

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runtime did not stop")
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	assert.Len(t, fb.unregistered, 2)
}
