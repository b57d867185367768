package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestWorkerPool(t *testing.T) {
	t.Run("任务全部执行", func(t *testing.T) {
		p := NewWorkerPool(4, 16, zap.NewNop())
		p.Start(context.Background())

		var done int64
		for i := 0; i < 10; i++ {
			p.Submit(func() {
				atomic.AddInt64(&done, 1)
			})
		}
		p.Stop()

		assert.Equal(t, int64(10), atomic.LoadInt64(&done))
	})

	t.Run("队列满时TrySubmit返回false", func(t *testing.T) {
		p := NewWorkerPool(1, 1, zap.NewNop())
		// 不启动 worker，队列容量 1
		assert.True(t, p.TrySubmit(func() {}))
		assert.False(t, p.TrySubmit(func() {}))
	})

	t.Run("panic不影响后续任务", func(t *testing.T) {
		p := NewWorkerPool(1, 4, zap.NewNop())
		p.Start(context.Background())

		var done int64
		p.Submit(func() {
			panic("boom")
		})
		p.Submit(func() {
			atomic.AddInt64(&done, 1)
		})
		p.Stop()

		assert.Equal(t, int64(1), atomic.LoadInt64(&done))
	})

	t.Run("取消上下文后worker退出", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		p := NewWorkerPool(2, 4, zap.NewNop())
		p.Start(ctx)

		cancel()

		finished := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(finished)
		}()

		select {
		case <-finished:
		case <-time.After(time.Second):
			t.Fatal("workers did not exit after context cancellation")
		}
	})
}
