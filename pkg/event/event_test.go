package event_test

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shashiranjanraj/appshell/pkg/event"
)

func TestBus_FireInOrder(t *testing.T) {
	var bus event.Bus
	var got []string

	bus.Listen(event.SourceChanged, func(p any) { got = append(got, "views:"+p.(event.Change).Path) })
	bus.Listen(event.SourceChanged, func(p any) { got = append(got, "less:"+p.(event.Change).Path) })
	bus.Listen("other", func(any) { got = append(got, "other") })

	bus.Fire(event.SourceChanged, event.Change{Path: "app.less", Op: "write"})

	assert.Equal(t, []string{"views:app.less", "less:app.less"}, got)
}

func TestBus_FireAsyncAndWait(t *testing.T) {
	bus := event.New()
	var n atomic.Int64
	for i := 0; i < 5; i++ {
		bus.Listen("e", func(any) { n.Add(1) })
	}

	bus.FireAsync("e", nil)
	bus.Wait()

	assert.EqualValues(t, 5, n.Load())
}

func TestBus_Flush(t *testing.T) {
	bus := event.New()
	called := false
	bus.Listen("e", func(any) { called = true })
	bus.Flush()
	bus.Fire("e", nil)
	assert.False(t, called)
}
