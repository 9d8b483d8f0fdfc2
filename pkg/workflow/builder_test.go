package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(ctx context.Context, env Envelope, wc Context) error { return nil }

func TestBuilder_Build(t *testing.T) {
	wf, err := NewBuilder("pipeline").
		AddExecutor(NewAction("a", nil, noopHandler)).
		AddExecutor(NewAction("b", nil, noopHandler)).
		SetStart("a").
		AddEdge("a", "b").
		MarkOutput("b").
		Build()
	require.NoError(t, err)

	assert.Equal(t, "pipeline", wf.Name())
	assert.Equal(t, "a", wf.StartID())
	assert.Equal(t, []string{"a", "b"}, wf.ExecutorIDs())
	assert.True(t, wf.IsOutputProducer("b"))
	assert.False(t, wf.IsOutputProducer("a"))
	require.Len(t, wf.EdgesFrom("a"), 1)
	assert.Empty(t, wf.EdgesFrom("b"))
}

func TestBuilder_Validation(t *testing.T) {
	t.Run("missing start", func(t *testing.T) {
		_, err := NewBuilder("w").
			AddExecutor(NewAction("a", nil, noopHandler)).
			Build()
		require.ErrorIs(t, err, ErrInvalidWorkflow)
	})

	t.Run("unregistered edge target", func(t *testing.T) {
		_, err := NewBuilder("w").
			AddExecutor(NewAction("a", nil, noopHandler)).
			SetStart("a").
			AddEdge("a", "ghost").
			Build()
		require.ErrorIs(t, err, ErrInvalidWorkflow)
		assert.Contains(t, err.Error(), "ghost")
	})

	t.Run("unregistered switch default", func(t *testing.T) {
		_, err := NewBuilder("w").
			AddExecutor(NewAction("a", nil, noopHandler)).
			AddExecutor(NewAction("b", nil, noopHandler)).
			SetStart("a").
			AddSwitch("a", []SwitchCase{{Predicate: func(any) bool { return true }, Target: "b"}}, "missing").
			Build()
		require.ErrorIs(t, err, ErrInvalidWorkflow)
	})

	t.Run("duplicate executor", func(t *testing.T) {
		_, err := NewBuilder("w").
			AddExecutor(NewAction("a", nil, noopHandler)).
			AddExecutor(NewAction("a", nil, noopHandler)).
			SetStart("a").
			Build()
		require.ErrorIs(t, err, ErrInvalidWorkflow)
		assert.Contains(t, err.Error(), "twice")
	})

	t.Run("unregistered output producer", func(t *testing.T) {
		_, err := NewBuilder("w").
			AddExecutor(NewAction("a", nil, noopHandler)).
			SetStart("a").
			MarkOutput("nope").
			Build()
		require.ErrorIs(t, err, ErrInvalidWorkflow)
	})
}

func TestBuilder_FanInRegistersAllSources(t *testing.T) {
	wf, err := NewBuilder("w").
		AddExecutor(NewAction("a", nil, noopHandler)).
		AddExecutor(NewAction("b", nil, noopHandler)).
		AddExecutor(NewAction("join", nil, noopHandler)).
		SetStart("a").
		AddFanIn([]string{"a", "b"}, "join").
		Build()
	require.NoError(t, err)

	require.Len(t, wf.EdgesFrom("a"), 1)
	require.Len(t, wf.EdgesFrom("b"), 1)
	fanIn, ok := wf.EdgesFrom("a")[0].(FanInEdge)
	require.True(t, ok)
	assert.Equal(t, "join", fanIn.Target)
	assert.Equal(t, JoinWaitAll, fanIn.Join)
}

func TestTypedAction_TypeMismatch(t *testing.T) {
	exec := NewTypedAction("upper", func(ctx context.Context, in string, wc Context) error {
		return nil
	})

	err := exec.Handle(context.Background(), NewEnvelope(42, "start"), nil)
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestHandlesType(t *testing.T) {
	typed := NewTypedAction("t", func(ctx context.Context, in string, wc Context) error { return nil })
	assert.True(t, HandlesType(typed, "string"))
	assert.False(t, HandlesType(typed, "int"))

	sink := NewAction("sink", nil, noopHandler)
	assert.True(t, HandlesType(sink, "string"))
	assert.True(t, HandlesType(sink, "int"))
}
