package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livesync/pkg/types"
)

func envelope(t *testing.T, frame string) types.Envelope {
	t.Helper()
	env, err := types.ParseEnvelope([]byte(frame))
	require.NoError(t, err)
	return env
}

func TestRouter_DispatchInvokesHandlerWithFullEnvelope(t *testing.T) {
	r := New()

	var got types.CodeUpdate
	r.On(types.TypeCodeUpdate, func(env types.Envelope) {
		require.NoError(t, env.Decode(&got))
	})

	handled := r.Dispatch(envelope(t, `{"type":"code_update","code":"x","problemId":4,"problemIndex":1}`))

	assert.True(t, handled)
	assert.Equal(t, types.CodeUpdate{Type: types.TypeCodeUpdate, Code: "x", ProblemID: 4, ProblemIndex: 1}, got)
}

func TestRouter_OnOverwritesPreviousHandler(t *testing.T) {
	r := New()
	var calls []string

	r.On("ping", func(types.Envelope) { calls = append(calls, "first") })
	r.On("ping", func(types.Envelope) { calls = append(calls, "second") })
	r.Dispatch(envelope(t, `{"type":"ping"}`))

	assert.Equal(t, []string{"second"}, calls)
	assert.Equal(t, 1, r.Len())
}

func TestRouter_UnmatchedTypeIsIgnored(t *testing.T) {
	r := New()
	called := false
	r.On("known", func(types.Envelope) { called = true })

	assert.False(t, r.Dispatch(envelope(t, `{"type":"unknown"}`)))
	assert.False(t, called)
}

func TestRouter_OffAndClear(t *testing.T) {
	r := New()
	r.On("a", func(types.Envelope) {})
	r.On("b", func(types.Envelope) {})

	r.Off("a")
	assert.False(t, r.Has("a"))
	assert.True(t, r.Has("b"))

	r.On("c", nil)
	assert.False(t, r.Has("c"))

	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Dispatch(envelope(t, `{"type":"b"}`)))
}

func TestRouter_HandlerMayReRegister(t *testing.T) {
	r := New()
	count := 0
	r.On("once", func(types.Envelope) {
		count++
		r.Off("once")
	})

	r.Dispatch(envelope(t, `{"type":"once"}`))
	r.Dispatch(envelope(t, `{"type":"once"}`))

	assert.Equal(t, 1, count)
}
