package processor_test

import (
	"context"
	"fmt"
	"time"

	"github.com/pooledstream/psep"
	"github.com/pooledstream/psep/invoker"
	"github.com/pooledstream/psep/processor"
	"github.com/pooledstream/psep/source"
	"github.com/pooledstream/psep/tokenstore/memory"
	"github.com/pooledstream/psep/workpackage"
)

// Example wires a Processor to an in-memory stream and token store,
// publishes a couple of events, and lets the handler observe them.
func Example() {
	src := source.NewMemorySource(true)
	store := memory.New(10 * time.Second)

	done := make(chan string, 2)
	handler := invoker.NewRouter()
	handler.Register("OrderPlaced", func(ctx context.Context, event psep.TrackedEvent, segment psep.Segment) error {
		done <- event.PayloadType
		return nil
	})

	p, err := processor.New("orders",
		processor.WithMessageSource(src),
		processor.WithTokenStore(store),
		processor.WithEventHandlerInvoker(handler),
		processor.WithTransactionManager(workpackage.NoopTransactionManager{}),
		processor.WithCoordinatorExecutor(psep.GoroutineExecutor{}),
		processor.WithWorkerExecutor(psep.GoroutineExecutor{}),
		processor.WithInitialToken(psep.NewGlobalSequenceToken(0)),
	)
	if err != nil {
		fmt.Println("configuration error:", err)
		return
	}

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		fmt.Println("start error:", err)
		return
	}
	defer p.ShutDown(ctx)

	src.Publish("order-42", "OrderPlaced", nil)

	select {
	case payloadType := <-done:
		fmt.Println(payloadType)
	case <-time.After(2 * time.Second):
		fmt.Println("timed out")
	}

	// Output: OrderPlaced
}
