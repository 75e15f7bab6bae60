package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhubert/plural-orchestrator/event"
	"github.com/zhubert/plural-orchestrator/logger"
	"github.com/zhubert/plural-orchestrator/paths"
)

func TestMain(m *testing.M) {
	home, err := os.MkdirTemp("", "history-test-home-*")
	if err != nil {
		panic(err)
	}
	os.Setenv(paths.HomeEnv, home)
	paths.Reset()
	logger.Init(filepath.Join(home, "logs", "test.log"))

	code := m.Run()

	logger.Close()
	os.RemoveAll(home)
	os.Exit(code)
}

func newStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "history"))
}

func TestStore_AppendLoad(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.Append("s1", Entry{Role: RoleUser, Content: "hello"}))
	require.NoError(t, s.Append("s1",
		Entry{Role: RoleAssistant, Content: "hi"},
		Entry{Role: RoleTool, ToolName: "Read", Content: "file contents"},
	))
	require.NoError(t, s.Append("s2", Entry{Role: RoleUser, Content: "other"}))

	entries, err := s.Load("s1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{RoleUser, RoleAssistant, RoleTool}, []string{entries[0].Role, entries[1].Role, entries[2].Role})
	assert.Equal(t, "Read", entries[2].ToolName)

	for i, e := range entries {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Time.IsZero())
		if i > 0 {
			assert.Less(t, entries[i-1].ID, e.ID, "ids sort in append order")
		}
	}

	other, err := s.Load("s2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestStore_KeepsProvidedIDAndTime(t *testing.T) {
	s := newStore(t)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.Append("s1", Entry{ID: "fixed", Time: at, Role: RoleUser}))

	entries, err := s.Load("s1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fixed", entries[0].ID)
	assert.True(t, at.Equal(entries[0].Time))
}

func TestStore_LoadMissing(t *testing.T) {
	entries, err := newStore(t).Load("nobody")
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestStore_LoadSkipsCorruptLines(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Append("s1", Entry{Role: RoleUser, Content: "a"}))

	f, err := os.OpenFile(s.path("s1"), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, s.Append("s1", Entry{Role: RoleAssistant, Content: "b"}))

	entries, err := s.Load("s1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[1].Content)
}

func TestStore_SessionIDsAreSanitized(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Append("../escape", Entry{Role: RoleUser}))

	_, err := os.Stat(filepath.Join(s.Dir(), ".._escape.jsonl"))
	assert.NoError(t, err)
	entries, err := s.Load("../escape")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_Trim(t *testing.T) {
	s := newStore(t)
	for _, c := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, s.Append("s1", Entry{Role: RoleUser, Content: c}))
	}

	removed, err := s.Trim("s1", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	entries, err := s.Load("s1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "4", entries[0].Content)
	assert.Equal(t, "5", entries[1].Content)

	removed, err = s.Trim("s1", 10)
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = s.Trim("s1", 0)
	require.NoError(t, err)
	assert.Zero(t, removed, "zero disables trimming")
}

func TestStore_DeleteAndClearAll(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Delete("missing"), "deleting a missing history is fine")

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Append(id, Entry{Role: RoleUser}))
	}
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("keep"), 0644))

	require.NoError(t, s.Delete("a"))
	entries, err := s.Load("a")
	require.NoError(t, err)
	assert.Empty(t, entries)

	n, err := s.ClearAll()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = os.Stat(filepath.Join(s.Dir(), "notes.txt"))
	assert.NoError(t, err, "unrelated files survive")

	n, err = NewStore(filepath.Join(t.TempDir(), "nope")).ClearAll()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDefaultStore(t *testing.T) {
	s, err := DefaultStore()
	require.NoError(t, err)
	dir, err := paths.HistoryDir()
	require.NoError(t, err)
	assert.Equal(t, dir, s.Dir())
}

func TestFormatTranscript(t *testing.T) {
	assert.Empty(t, FormatTranscript(nil))

	got := FormatTranscript([]Entry{
		{Role: RoleUser, Content: "fix the build"},
		{Role: RoleAssistant, Content: "Looking."},
		{Role: RoleTool, ToolName: "Bash", Content: "ok"},
		{Role: RoleTool, ToolName: "Bash", Content: "exit 1", IsError: true},
		{Role: RoleResult, Content: "Done", DurationMS: 1500, CostUSD: 0.0123},
		{Role: RoleError, Content: "agent crashed"},
		{Role: "system", Content: "x"},
	})

	want := "User:\nfix the build\n\n" +
		"Assistant:\nLooking.\n\n" +
		"Tool Bash:\nok\n\n" +
		"Tool Bash (failed):\nexit 1\n\n" +
		"Result (1.5s, $0.0123):\nDone\n\n" +
		"Error:\nagent crashed\n\n" +
		"system:\nx"
	assert.Equal(t, want, got)
}

func TestRecorder_Record(t *testing.T) {
	s := newStore(t)
	r := NewRecorder(s, -1)

	r.RecordPrompt("s1", "build it")
	for _, ev := range []event.Event{
		event.State{Status: event.StatusWorking},
		event.Init{ResumeHandle: "h"},
		event.Text{Delta: "ok"},
		event.TextComplete{Text: "okay"},
		event.ToolInfo{ToolName: "Bash"},
		event.ToolComplete{ToolName: "Bash", Success: false, Error: "exit 2"},
		event.ToolComplete{ToolName: "Read", Success: true, Result: "data"},
		event.PermissionRequest{RequestID: "r", ToolName: "Bash"},
		event.Result{Text: "done", CostUSD: 0.2, DurationMS: 900},
		event.Error{Message: "boom"},
		event.Aborted{Reason: event.AbortReasonUser},
	} {
		r.Record("s1", ev)
	}

	entries, err := s.Load("s1")
	require.NoError(t, err)

	var got []Entry
	for _, e := range entries {
		e.ID, e.Time = "", time.Time{}
		got = append(got, e)
	}
	assert.Equal(t, []Entry{
		{Role: RoleUser, Content: "build it"},
		{Role: RoleAssistant, Content: "okay"},
		{Role: RoleTool, ToolName: "Bash", Content: "exit 2", IsError: true},
		{Role: RoleTool, ToolName: "Read", Content: "data"},
		{Role: RoleResult, Content: "done", CostUSD: 0.2, DurationMS: 900},
		{Role: RoleError, Content: "boom", IsError: true},
	}, got)
}

func TestRecorder_TrimsAfterResult(t *testing.T) {
	s := newStore(t)
	r := NewRecorder(s, 2)

	r.RecordPrompt("s1", "one")
	r.Record("s1", event.TextComplete{Text: "two"})
	r.Record("s1", event.TextComplete{Text: "three"})

	entries, err := s.Load("s1")
	require.NoError(t, err)
	assert.Len(t, entries, 3, "no trimming until a result")

	r.Record("s1", event.Result{Text: "four"})
	entries, err = s.Load("s1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "three", entries[0].Content)
	assert.Equal(t, RoleResult, entries[1].Role)
}

func TestRecorder_ConsumeFromBus(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	s := newStore(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewRecorder(s, 0).Consume(ctx, sub)
	}()

	bus.Publish("s1", event.TextComplete{Text: "from the bus"})
	bus.Publish("s2", event.Error{Message: "elsewhere"})

	require.Eventually(t, func() bool {
		a, _ := s.Load("s1")
		b, _ := s.Load("s2")
		return len(a) == 1 && len(b) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Consume did not return after cancel")
	}
}
