package domain

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ParallelMap 将 [0,n) 按 batch 分批交给至多 workers 个 goroutine 执行，fn(i) 的结果写入第 i 个槽位。
// 各槽位互不共享，结果顺序与并发度无关；批次之间检查 ctx 取消
func ParallelMap[T any](ctx context.Context, n, batch, workers int, fn func(i int) T) ([]T, error) {
	if batch <= 0 {
		batch = 1
	}
	if workers <= 0 {
		workers = 1
	}
	out := make([]T, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < n; start += batch {
		if gctx.Err() != nil {
			break
		}
		end := min(start+batch, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				out[i] = fn(i)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
