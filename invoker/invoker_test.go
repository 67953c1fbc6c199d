package invoker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pooledstream/psep"
)

func TestFuncDefaultsHandleEverything(t *testing.T) {
	var got psep.TrackedEvent
	f := &Func{Handler: func(ctx context.Context, event psep.TrackedEvent, segment psep.Segment) error {
		got = event
		return nil
	}}

	assert.True(t, f.CanHandleType("anything"))
	ok, err := f.CanHandle(psep.TrackedEvent{}, psep.Segment{})
	require.NoError(t, err)
	assert.True(t, ok)

	event := psep.TrackedEvent{PayloadType: "IntEvent", Payload: 1}
	require.NoError(t, f.Handle(context.Background(), event, psep.Segment{}))
	assert.Equal(t, event, got)

	assert.False(t, f.SupportsReset())
	assert.ErrorIs(t, f.PerformReset(context.Background(), nil), psep.ErrUnsupportedOperation)
}

func TestFuncResetOverride(t *testing.T) {
	called := false
	f := &Func{
		Handler:   func(ctx context.Context, event psep.TrackedEvent, segment psep.Segment) error { return nil },
		ResetFunc: func(ctx context.Context, resetContext any) error { called = true; return nil },
	}
	assert.True(t, f.SupportsReset())
	require.NoError(t, f.PerformReset(context.Background(), "ctx"))
	assert.True(t, called)
}

func TestRouterDispatchesByPayloadType(t *testing.T) {
	r := NewRouter()
	var gotInt, gotString int
	r.Register("IntEvent", func(ctx context.Context, event psep.TrackedEvent, segment psep.Segment) error {
		gotInt++
		return nil
	})
	r.Register("StringEvent", func(ctx context.Context, event psep.TrackedEvent, segment psep.Segment) error {
		gotString++
		return nil
	})

	assert.True(t, r.CanHandleType("IntEvent"))
	assert.False(t, r.CanHandleType("UnknownEvent"))

	require.NoError(t, r.Handle(context.Background(), psep.TrackedEvent{PayloadType: "IntEvent"}, psep.Segment{}))
	require.NoError(t, r.Handle(context.Background(), psep.TrackedEvent{PayloadType: "StringEvent"}, psep.Segment{}))
	require.NoError(t, r.Handle(context.Background(), psep.TrackedEvent{PayloadType: "UnknownEvent"}, psep.Segment{}))

	assert.Equal(t, 1, gotInt)
	assert.Equal(t, 1, gotString)
}

func TestRouterReset(t *testing.T) {
	r := NewRouter()
	assert.False(t, r.SupportsReset())
	assert.ErrorIs(t, r.PerformReset(context.Background(), nil), psep.ErrUnsupportedOperation)

	r.OnReset(func(ctx context.Context, resetContext any) error { return errors.New("boom") })
	assert.True(t, r.SupportsReset())
	assert.EqualError(t, r.PerformReset(context.Background(), nil), "boom")
}

func TestMockRecordsHandleCalls(t *testing.T) {
	m := NewMock()
	event := psep.TrackedEvent{PayloadType: "IntEvent"}
	segment := psep.NewSegment(0)

	require.NoError(t, m.Handle(context.Background(), event, segment))
	require.NoError(t, m.Handle(context.Background(), event, segment))

	assert.Equal(t, 2, m.CallCount())
	m.Reset()
	assert.Equal(t, 0, m.CallCount())
}

func TestMockHandleFuncOverride(t *testing.T) {
	m := NewMock()
	wantErr := errors.New("handler failure")
	m.HandleFunc = func(ctx context.Context, event psep.TrackedEvent, segment psep.Segment) error { return wantErr }

	err := m.Handle(context.Background(), psep.TrackedEvent{}, psep.Segment{})
	assert.ErrorIs(t, err, wantErr)
}
