package rscript

import (
	"context"
	"errors"
	"fmt"

	"github.com/panjf2000/ants/v2"

	"github.com/sakif/rstats-playground/internal/apperror"
	"github.com/sakif/rstats-playground/internal/executor/process"
)

type runParam struct {
	ctx    context.Context
	runner process.Runner
	script string
	done   chan runResult
}

type runResult struct {
	out *process.Output
	err error
}

// newRunPool bounds how many interpreter processes run at once. Submitting
// blocks while all workers are busy.
func newRunPool(size int) (*ants.PoolWithFunc, error) {
	if size <= 0 {
		return nil, errors.New("pool size must be greater than 0")
	}
	pool, err := ants.NewPoolWithFunc(size, func(args any) {
		param, ok := args.(*runParam)
		if !ok {
			panic("interpreter pool args type error")
		}
		defer func() {
			if r := recover(); r != nil {
				param.done <- runResult{err: apperror.ProcessSpawn("interpreter runner panicked", fmt.Errorf("%v", r))}
			}
		}()
		out, err := param.runner.Run(param.ctx, param.script)
		param.done <- runResult{out: out, err: err}
	})
	if err != nil {
		return nil, fmt.Errorf("create interpreter pool: %w", err)
	}
	return pool, nil
}

// pooledRunner runs every script through the pool.
type pooledRunner struct {
	pool   *ants.PoolWithFunc
	runner process.Runner
}

func (r pooledRunner) Run(ctx context.Context, script string) (*process.Output, error) {
	param := &runParam{
		ctx:    ctx,
		runner: r.runner,
		script: script,
		done:   make(chan runResult, 1),
	}
	if err := r.pool.Invoke(param); err != nil {
		return nil, apperror.ProcessSpawn("interpreter pool unavailable", err)
	}
	res := <-param.done
	return res.out, res.err
}
