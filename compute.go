package gpubasics

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gogpu/gpubasics/driver"
	"github.com/gogpu/gpubasics/internal/cache"
)

// KernelAddArrays is the elementwise sum kernel of the default library.
const KernelAddArrays = "add_arrays"

// FillFunc returns the input value for element i.
type FillFunc func(i int) float32

// ReduceFunc folds one output element into the accumulator.
type ReduceFunc func(acc float64, v float32) float64

// Sum adds v to acc.
func Sum(acc float64, v float32) float64 { return acc + float64(v) }

// ReductionJob describes one elementwise dispatch followed by a reduction
// of its output.
type ReductionJob struct {
	// Kernel is the library function to dispatch.
	Kernel string

	// Count is the number of elements in each buffer.
	Count int

	// Fill produces the inputs. It is called for every index of the first
	// input, then for every index of the second. Nil fills zeros.
	Fill FillFunc

	// Reduce folds the output in index order. Nil selects Sum.
	Reduce ReduceFunc

	// ThreadgroupSize overrides the dispatcher's threadgroup width when
	// positive.
	ThreadgroupSize int

	// Inspect, if set, is called from the completion handler with the
	// inputs and the output before they are released.
	Inspect func(a, b, out *Buffer[float32])
}

// Result is the outcome of a ReductionJob.
type Result struct {
	JobID   uuid.UUID
	Kernel  string
	Count   int
	Value   float64
	Elapsed time.Duration

	// Err is set when the command buffer finished with an error. Value is
	// zero in that case.
	Err error
}

// ComputeDispatcher runs elementwise kernels and delivers reduced results
// asynchronously.
//
// ComputeDispatcher is safe for concurrent use.
type ComputeDispatcher struct {
	ctx             *DeviceContext
	pipelines       *cache.Cache[string, driver.ComputePipelineState]
	threadgroupSize int

	jobs atomic.Int64
}

// NewComputeDispatcher creates a dispatcher on ctx.
// WithThreadgroupSize sets the default threadgroup width.
func NewComputeDispatcher(ctx *DeviceContext, opts ...Option) *ComputeDispatcher {
	o := applyOptions(opts)
	return &ComputeDispatcher{
		ctx:             ctx,
		pipelines:       cache.New[string, driver.ComputePipelineState](),
		threadgroupSize: o.threadgroupSize,
	}
}

// Pipeline returns the compute pipeline for kernel, building it on first use.
func (d *ComputeDispatcher) Pipeline(kernel string) (driver.ComputePipelineState, error) {
	return d.pipelines.GetOrCreate(kernel, func() (driver.ComputePipelineState, error) {
		lib, err := d.ctx.Library()
		if err != nil {
			return nil, err
		}
		fn, err := lib.Function(kernel)
		if err != nil {
			return nil, initErr("load kernel", err)
		}
		pso, err := d.ctx.Device().NewComputePipelineState(fn)
		if err != nil {
			return nil, initErr("create compute pipeline", err)
		}
		Logger().Debug("gpubasics: compute pipeline built",
			"kernel", kernel, "max_threads", pso.MaxTotalThreadsPerThreadgroup())
		return pso, nil
	})
}

// PipelineBuilds returns how many compute pipelines have been built.
func (d *ComputeDispatcher) PipelineBuilds() int {
	return int(d.pipelines.Stats().Builds)
}

// Jobs returns the number of jobs submitted.
func (d *ComputeDispatcher) Jobs() int64 { return d.jobs.Load() }

// RunElementwiseReduction dispatches kernel over n elements filled by fill
// and reduces the output with reduce. See Run.
func (d *ComputeDispatcher) RunElementwiseReduction(kernel string, n int, fill FillFunc, reduce ReduceFunc) (<-chan Result, error) {
	return d.Run(ReductionJob{Kernel: kernel, Count: n, Fill: fill, Reduce: reduce})
}

// Run submits job and returns at once. The returned channel receives
// exactly one Result when the work has completed and is then closed.
//
// The kernel is resolved before anything else, so an unknown kernel fails
// even for an empty job. A job with Count 0 dispatches nothing; its
// channel already holds a zero Result.
func (d *ComputeDispatcher) Run(job ReductionJob) (<-chan Result, error) {
	if job.Count < 0 {
		return nil, fmt.Errorf("gpubasics: negative element count %d", job.Count)
	}
	pso, err := d.Pipeline(job.Kernel)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	ch := make(chan Result, 1)
	n := job.Count
	if n == 0 {
		ch <- Result{JobID: id, Kernel: job.Kernel}
		close(ch)
		return ch, nil
	}

	fill := job.Fill
	if fill == nil {
		fill = func(int) float32 { return 0 }
	}
	reduce := job.Reduce
	if reduce == nil {
		reduce = Sum
	}

	var bufs [3]*Buffer[float32]
	release := func() {
		for _, b := range bufs {
			if b != nil {
				b.Release()
			}
		}
	}
	for i := range bufs {
		if bufs[i], err = Allocate(d.ctx, Float32, n); err != nil {
			release()
			return nil, err
		}
	}
	a, b, out := bufs[0], bufs[1], bufs[2]
	for i := range n {
		a.put(i, fill(i))
	}
	for i := range n {
		b.put(i, fill(i))
	}

	cb, err := d.ctx.CommandBuffer()
	if err != nil {
		release()
		return nil, err
	}
	enc, err := cb.ComputeCommandEncoder()
	if err != nil {
		release()
		return nil, initErr("create compute encoder", err)
	}

	tg := threadgroupWidth(pso.MaxTotalThreadsPerThreadgroup(), n, job.ThreadgroupSize, d.threadgroupSize)
	enc.SetComputePipelineState(pso)
	enc.SetBuffer(a.Raw(), 0, 0)
	enc.SetBuffer(b.Raw(), 0, 1)
	enc.SetBuffer(out.Raw(), 0, 2)
	enc.DispatchThreads(driver.Size1D(n), driver.Size1D(tg))

	start := time.Now()
	cb.AddCompletedHandler(func(c driver.CommandBuffer) {
		res := Result{JobID: id, Kernel: job.Kernel, Count: n}
		if c.Status() == driver.StatusError {
			res.Err = c.Err()
			if res.Err == nil {
				res.Err = errors.New("gpubasics: command buffer failed")
			}
		} else {
			acc := 0.0
			for i := range n {
				acc = reduce(acc, out.get(i))
			}
			res.Value = acc
			if job.Inspect != nil {
				job.Inspect(a, b, out)
			}
		}
		res.Elapsed = time.Since(start)
		release()
		ch <- res
		close(ch)
	})

	if err := enc.EndEncoding(); err != nil {
		release()
		return nil, initErr("encode dispatch", err)
	}
	d.jobs.Add(1)
	Logger().Debug("gpubasics: dispatch submitted",
		"job", id, "kernel", job.Kernel, "threads", n, "threadgroup", tg)
	if err := cb.Commit(); err != nil {
		// The handler still runs and releases the buffers.
		return nil, initErr("commit", err)
	}
	return ch, nil
}

// threadgroupWidth picks the first positive override, or maxThreads,
// clamped to [1, min(maxThreads, n)].
func threadgroupWidth(maxThreads, n int, overrides ...int) int {
	w := maxThreads
	for _, o := range overrides {
		if o > 0 {
			w = o
			break
		}
	}
	return max(1, min(w, maxThreads, n))
}

// AwaitResult waits for the result on ch or for ctx to be done. Only the
// wait is cancelled; submitted work still runs to completion.
func AwaitResult(ctx context.Context, ch <-chan Result) (Result, error) {
	select {
	case res, ok := <-ch:
		if !ok {
			return Result{}, errors.New("gpubasics: result channel closed")
		}
		return res, res.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
