package processor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pooledstream/psep"
	"github.com/pooledstream/psep/invoker"
	"github.com/pooledstream/psep/source"
	"github.com/pooledstream/psep/tokenstore/memory"
	"github.com/pooledstream/psep/workpackage"
)

// requiredOpts supplies every currently-required option besides the
// three varied by the test at hand, so each test only has to spell out
// what it cares about.
func requiredOpts() []Option {
	return []Option{
		WithTransactionManager(workpackage.NoopTransactionManager{}),
		WithCoordinatorExecutor(psep.GoroutineExecutor{}),
		WithWorkerExecutor(psep.GoroutineExecutor{}),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNewRejectsMissingRequiredOptions(t *testing.T) {
	_, err := New("orders")
	assert.ErrorIs(t, err, psep.ErrConfiguration)
}

func TestNewRejectsMissingTransactionManager(t *testing.T) {
	_, err := New("orders",
		WithMessageSource(source.NewMemorySource(true)),
		WithTokenStore(memory.New(10*time.Second)),
		WithEventHandlerInvoker(invoker.NewMock()),
		WithCoordinatorExecutor(psep.GoroutineExecutor{}),
		WithWorkerExecutor(psep.GoroutineExecutor{}),
	)
	assert.ErrorIs(t, err, psep.ErrConfiguration)
}

func TestNewRejectsMissingCoordinatorExecutor(t *testing.T) {
	_, err := New("orders",
		WithMessageSource(source.NewMemorySource(true)),
		WithTokenStore(memory.New(10*time.Second)),
		WithEventHandlerInvoker(invoker.NewMock()),
		WithTransactionManager(workpackage.NoopTransactionManager{}),
		WithWorkerExecutor(psep.GoroutineExecutor{}),
	)
	assert.ErrorIs(t, err, psep.ErrConfiguration)
}

func TestNewRejectsMissingWorkerExecutor(t *testing.T) {
	_, err := New("orders",
		WithMessageSource(source.NewMemorySource(true)),
		WithTokenStore(memory.New(10*time.Second)),
		WithEventHandlerInvoker(invoker.NewMock()),
		WithTransactionManager(workpackage.NoopTransactionManager{}),
		WithCoordinatorExecutor(psep.GoroutineExecutor{}),
	)
	assert.ErrorIs(t, err, psep.ErrConfiguration)
}

func TestProcessorStartShutdownLifecycle(t *testing.T) {
	src := source.NewMemorySource(true)
	opts := append(requiredOpts(),
		WithMessageSource(src),
		WithTokenStore(memory.New(10*time.Second)),
		WithEventHandlerInvoker(invoker.NewMock()),
		WithInitialToken(psep.NewGlobalSequenceToken(0)),
		WithTokenClaimInterval(20*time.Millisecond),
	)
	p, err := New("orders", opts...)
	require.NoError(t, err)

	assert.False(t, p.IsRunning())
	require.NoError(t, p.Start(context.Background()))
	assert.True(t, p.IsRunning())

	waitFor(t, func() bool { return len(p.ProcessingStatus()) == 1 })

	require.NoError(t, p.ShutDown(context.Background()))
	assert.False(t, p.IsRunning())
}

func TestProcessorResetTokensRejectedWhileRunning(t *testing.T) {
	src := source.NewMemorySource(true)
	mock := invoker.NewMock()
	mock.SupportsResetFunc = func() bool { return true }
	opts := append(requiredOpts(),
		WithMessageSource(src),
		WithTokenStore(memory.New(10*time.Second)),
		WithEventHandlerInvoker(mock),
		WithInitialToken(psep.NewGlobalSequenceToken(0)),
	)
	p, err := New("orders", opts...)
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	defer p.ShutDown(context.Background())

	err = <-p.ResetTokens(nil, nil)
	assert.ErrorIs(t, err, psep.ErrIllegalState)
}

func TestProcessorSupportsResetDelegatesToInvoker(t *testing.T) {
	mock := invoker.NewMock()
	mock.SupportsResetFunc = func() bool { return true }
	opts := append(requiredOpts(),
		WithMessageSource(source.NewMemorySource(true)),
		WithTokenStore(memory.New(10*time.Second)),
		WithEventHandlerInvoker(mock),
	)
	p, err := New("orders", opts...)
	require.NoError(t, err)
	assert.True(t, p.SupportsReset())
}

func TestProcessorMaxCapacityDefaultsToUnbounded(t *testing.T) {
	opts := append(requiredOpts(),
		WithMessageSource(source.NewMemorySource(true)),
		WithTokenStore(memory.New(10*time.Second)),
		WithEventHandlerInvoker(invoker.NewMock()),
	)
	p, err := New("orders", opts...)
	require.NoError(t, err)
	assert.Greater(t, p.MaxCapacity(), 1<<20)
}

func TestProcessorMaxCapacityHonorsOption(t *testing.T) {
	opts := append(requiredOpts(),
		WithMessageSource(source.NewMemorySource(true)),
		WithTokenStore(memory.New(10*time.Second)),
		WithEventHandlerInvoker(invoker.NewMock()),
		WithMaxClaimedSegments(3),
	)
	p, err := New("orders", opts...)
	require.NoError(t, err)
	assert.Equal(t, 3, p.MaxCapacity())
}
