package stream

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(events *[]Event) func(Event) error {
	return func(e Event) error {
		*events = append(*events, e)
		return nil
	}
}

func TestSession_HappyPath(t *testing.T) {
	var events []Event
	s := NewSession(collect(&events))

	require.NoError(t, s.Emit(StageInitializing, "starting", 2, nil))
	require.NoError(t, s.Emit(StageAnalyzing, "analyzing requirements", 5, nil))
	require.NoError(t, s.Emit(StageSearching, "searching grants", 15, nil))
	require.NoError(t, s.Emit(StageEvaluating, "evaluating 1/3", 50, nil))
	require.NoError(t, s.Emit(StageEvaluating, "evaluating 2/3", 70, nil))
	require.NoError(t, s.Emit(StageFinalizing, "ranking", 95, nil))
	require.NoError(t, s.Emit(StageComplete, "done", 100, map[string]bool{"success": true}))

	assert.Len(t, events, 7)
	assert.Equal(t, StageComplete, s.Stage())
}

func TestSession_RejectsBackwardsStage(t *testing.T) {
	s := NewSession(func(Event) error { return nil })

	require.NoError(t, s.Emit(StageSearching, "", 15, nil))
	err := s.Emit(StageAnalyzing, "", 20, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSession_RejectsRepeatedStage(t *testing.T) {
	s := NewSession(func(Event) error { return nil })

	require.NoError(t, s.Emit(StageSearching, "", 15, nil))
	err := s.Emit(StageSearching, "", 20, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSession_EvaluatingMayRepeat(t *testing.T) {
	s := NewSession(func(Event) error { return nil })

	require.NoError(t, s.Emit(StageEvaluating, "1/5", 40, nil))
	assert.NoError(t, s.Emit(StageEvaluating, "2/5", 52, nil))
	assert.NoError(t, s.Emit(StageEvaluating, "3/5", 64, nil))
}

func TestSession_ErrorFromAnyStage(t *testing.T) {
	for _, stage := range []Stage{StageInitializing, StageSearching, StageEvaluating, StageFinalizing} {
		var events []Event
		s := NewSession(collect(&events))
		require.NoError(t, s.Emit(stage, "", 10, nil))
		require.NoError(t, s.Error("dependency unavailable"))
		assert.Equal(t, StageError, events[len(events)-1].Stage)
	}
}

func TestSession_NothingAfterTerminal(t *testing.T) {
	s := NewSession(func(Event) error { return nil })
	require.NoError(t, s.Emit(StageComplete, "done", 100, nil))

	assert.ErrorIs(t, s.Emit(StageComplete, "again", 100, nil), ErrInvalidTransition)
	assert.ErrorIs(t, s.Error("late failure"), ErrInvalidTransition)

	s = NewSession(func(Event) error { return nil })
	require.NoError(t, s.Error("boom"))
	assert.ErrorIs(t, s.Emit(StageFinalizing, "", 95, nil), ErrInvalidTransition)
}

func TestSession_ProgressNeverDecreases(t *testing.T) {
	var events []Event
	s := NewSession(collect(&events))

	require.NoError(t, s.Emit(StageEvaluating, "", 60, nil))
	require.NoError(t, s.Emit(StageEvaluating, "", 45, nil))
	require.NoError(t, s.Emit(StageFinalizing, "", 95, nil))

	assert.Equal(t, []int{60, 60, 95}, []int{events[0].Progress, events[1].Progress, events[2].Progress})
}

func TestSession_ProgressCappedAt100(t *testing.T) {
	var events []Event
	s := NewSession(collect(&events))

	require.NoError(t, s.Emit(StageComplete, "", 140, nil))
	assert.Equal(t, 100, events[0].Progress)
}

func TestSession_ConcurrentEvaluatingEmits(t *testing.T) {
	var mu sync.Mutex
	var events []Event
	s := NewSession(func(e Event) error {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			_ = s.Emit(StageEvaluating, "item", 30+p, nil)
		}(i)
	}
	wg.Wait()

	prev := -1
	for _, e := range events {
		assert.GreaterOrEqual(t, e.Progress, prev)
		prev = e.Progress
	}
}

func TestDecodeEvent_StageField(t *testing.T) {
	e, err := DecodeEvent([]byte(`{"stage":"searching","message":"m","progress":20}`))
	require.NoError(t, err)
	assert.Equal(t, StageSearching, e.Stage)
	assert.Equal(t, 20, e.Progress)
}

func TestDecodeEvent_LegacyStatusField(t *testing.T) {
	e, err := DecodeEvent([]byte(`{"status":"evaluating","progress":55}`))
	require.NoError(t, err)
	assert.Equal(t, StageEvaluating, e.Stage)
}

func TestDecodeEvent_StageWinsOverStatus(t *testing.T) {
	e, err := DecodeEvent([]byte(`{"stage":"finalizing","status":"searching"}`))
	require.NoError(t, err)
	assert.Equal(t, StageFinalizing, e.Stage)
}

func TestDecodeEvent_MissingStageIsInitializing(t *testing.T) {
	e, err := DecodeEvent([]byte(`{"message":"hello","progress":0}`))
	require.NoError(t, err)
	assert.Equal(t, StageInitializing, e.Stage)
}

func TestDecodeEvent_UnknownStage(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"stage":"warming-up"}`))
	assert.ErrorIs(t, err, ErrUnknownStage)
}

func TestDecodeEvent_ErrorStage(t *testing.T) {
	e, err := DecodeEvent([]byte(`{"stage":"error","message":"boom"}`))
	require.NoError(t, err)
	assert.Equal(t, StageError, e.Stage)
	assert.True(t, e.Stage.Terminal())
}

func TestMonitor_ClampsRegressions(t *testing.T) {
	var m Monitor

	e := m.Observe(Event{Stage: StageSearching, Progress: 30})
	assert.Equal(t, 30, e.Progress)

	e = m.Observe(Event{Stage: StageEvaluating, Progress: 10})
	assert.Equal(t, 30, e.Progress)

	e = m.Observe(Event{Stage: StageFinalizing, Progress: 95})
	assert.Equal(t, 95, e.Progress)
}

func TestSSEWriter_FrameFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.Send(Event{Stage: StageSearching, Message: "searching grants", Progress: 15}))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "data: "))
	assert.True(t, strings.HasSuffix(body, "\n\n"))
	assert.Contains(t, body, `"stage":"searching"`)
	assert.Contains(t, body, `"progress":15`)
}

func TestSSEWriter_Keepalive(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.Keepalive())
	assert.Equal(t, ": keepalive\n\n", rec.Body.String())
}
