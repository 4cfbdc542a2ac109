package gpubasics

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/gpubasics/driver"
	"github.com/gogpu/gpubasics/driver/soft"
)

func await(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res, err := AwaitResult(ctx, ch)
	if err != nil {
		t.Fatalf("AwaitResult() error = %v", err)
	}
	return res
}

func TestElementwiseSumIsCorrect(t *testing.T) {
	ctx, _ := newSoftContext(t)
	d := NewComputeDispatcher(ctx)

	const n = 1000
	var (
		mu      sync.Mutex
		checked bool
		bad     []int
	)
	ch, err := d.Run(ReductionJob{
		Kernel: KernelAddArrays,
		Count:  n,
		Fill:   func(i int) float32 { return float32(i) * 0.5 },
		Inspect: func(a, b, out *Buffer[float32]) {
			mu.Lock()
			defer mu.Unlock()
			checked = true
			av, bv, ov := a.Values(), b.Values(), out.Values()
			for i := range ov {
				if ov[i] != av[i]+bv[i] {
					bad = append(bad, i)
				}
			}
		},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	res := await(t, ch)

	mu.Lock()
	defer mu.Unlock()
	if !checked {
		t.Fatal("Inspect was not called")
	}
	if len(bad) > 0 {
		t.Errorf("out[i] != a[i]+b[i] at %d indices, first %d", len(bad), bad[0])
	}
	// sum of 2 * 0.5 * i for i in [0, n)
	want := float64(n*(n-1)) / 2
	if res.Value != want {
		t.Errorf("Value = %v, want %v", res.Value, want)
	}
	if res.Count != n || res.Kernel != KernelAddArrays {
		t.Errorf("Result = %+v", res)
	}
}

func TestThreadgroupSizeDoesNotChangeResult(t *testing.T) {
	ctx, dev := newSoftContext(t)
	d := NewComputeDispatcher(ctx)
	const n = 4099

	fill := func(i int) float32 { return float32(i%97) + 0.25 }
	var first float64
	for i, tg := range []int{1, 7, 64, soft.DefaultMaxThreadsPerThreadgroup} {
		ch, err := d.Run(ReductionJob{Kernel: KernelAddArrays, Count: n, Fill: fill, ThreadgroupSize: tg})
		if err != nil {
			t.Fatalf("Run(tg=%d) error = %v", tg, err)
		}
		res := await(t, ch)
		if i == 0 {
			first = res.Value
			continue
		}
		if res.Value != first {
			t.Errorf("tg=%d Value = %v, want %v", tg, res.Value, first)
		}
	}
	if got := dev.Stats().Dispatches; got != 4 {
		t.Errorf("Dispatches = %d, want 4", got)
	}
	if got := d.PipelineBuilds(); got != 1 {
		t.Errorf("PipelineBuilds() = %d, want 1", got)
	}
}

func TestZeroCountCreatesNoCommandBuffer(t *testing.T) {
	ctx, dev := newSoftContext(t)
	d := NewComputeDispatcher(ctx)

	ch, err := d.RunElementwiseReduction(KernelAddArrays, 0, nil, nil)
	if err != nil {
		t.Fatalf("Run(0) error = %v", err)
	}
	res := await(t, ch)
	if res.Value != 0 || res.Count != 0 {
		t.Errorf("Result = %+v, want zero", res)
	}
	if _, ok := <-ch; ok {
		t.Error("result channel not closed")
	}
	if got := ctx.CommandBuffers(); got != 0 {
		t.Errorf("CommandBuffers() = %d, want 0", got)
	}
	if got := dev.Stats().CommandBuffers; got != 0 {
		t.Errorf("device command buffers = %d, want 0", got)
	}
}

func TestUnknownKernel(t *testing.T) {
	ctx, _ := newSoftContext(t)
	d := NewComputeDispatcher(ctx)

	for _, n := range []int{0, 16} {
		_, err := d.RunElementwiseReduction("no_such_kernel", n, nil, nil)
		var ie *InitializationError
		if !errors.As(err, &ie) || !errors.Is(err, driver.ErrFunctionNotFound) {
			t.Errorf("n=%d error = %v, want InitializationError(ErrFunctionNotFound)", n, err)
		}
	}
	if _, err := d.RunElementwiseReduction(KernelAddArrays, -1, nil, nil); err == nil {
		t.Error("negative count succeeded")
	}
}

func TestKernelWithoutLibrary(t *testing.T) {
	ctx, _ := newSoftContext(t, soft.WithoutLibrary())
	d := NewComputeDispatcher(ctx)
	_, err := d.Pipeline(KernelAddArrays)
	if !errors.Is(err, driver.ErrLibraryUnavailable) {
		t.Errorf("Pipeline() error = %v, want ErrLibraryUnavailable", err)
	}
}

func TestOversizedJobFailsBeforeEncoding(t *testing.T) {
	ctx, _ := newSoftContext(t)
	d := NewComputeDispatcher(ctx)

	ch, err := d.Run(ReductionJob{Kernel: KernelAddArrays, Count: math.MaxInt / 2})
	if ch != nil || !errors.Is(err, driver.ErrInvalidLength) {
		t.Fatalf("Run(MaxInt/2) = (%v, %v), want ErrInvalidLength", ch, err)
	}
	if got := ctx.CommandBuffers(); got != 0 {
		t.Errorf("CommandBuffers() = %d, want 0", got)
	}
	if d.Jobs() != 0 {
		t.Errorf("Jobs() = %d, want 0", d.Jobs())
	}
}

func TestEndToEndRandomSum(t *testing.T) {
	ctx, _ := newSoftContext(t)
	d := NewComputeDispatcher(ctx)

	const n = 100000
	rng := rand.New(rand.NewPCG(42, 7))
	ch, err := d.RunElementwiseReduction(KernelAddArrays, n, UniformFill(Range{Min: 0, Max: 1000}, rng), Sum)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	res := await(t, ch)

	// Two inputs of n samples with mean 500 each.
	const want = 1e8
	if math.Abs(res.Value-want)/want > 0.02 {
		t.Errorf("Value = %v, want %v within 2%%", res.Value, want)
	}
	if res.Elapsed <= 0 {
		t.Errorf("Elapsed = %v, want > 0", res.Elapsed)
	}
	if d.Jobs() != 1 {
		t.Errorf("Jobs() = %d, want 1", d.Jobs())
	}
}

func TestConcurrentJobs(t *testing.T) {
	ctx, _ := newSoftContext(t)
	d := NewComputeDispatcher(ctx, WithThreadgroupSize(32))

	const jobs = 8
	var wg sync.WaitGroup
	errs := make(chan error, jobs)
	for j := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, err := d.RunElementwiseReduction(KernelAddArrays, 100+j, func(int) float32 { return 1 }, nil)
			if err != nil {
				errs <- err
				return
			}
			res := await(t, ch)
			if want := float64(2 * (100 + j)); res.Value != want {
				errs <- errors.New("wrong sum")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if got := d.PipelineBuilds(); got != 1 {
		t.Errorf("PipelineBuilds() = %d, want 1", got)
	}
}

func TestAwaitResultCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := AwaitResult(ctx, make(chan Result))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("AwaitResult() error = %v, want context.Canceled", err)
	}

	closed := make(chan Result)
	close(closed)
	if _, err := AwaitResult(context.Background(), closed); err == nil {
		t.Error("AwaitResult on closed channel succeeded")
	}
}

func TestThreadgroupWidth(t *testing.T) {
	tests := []struct {
		name      string
		max, n    int
		overrides []int
		want      int
	}{
		{"max", 1024, 100000, nil, 1024},
		{"small n", 1024, 10, nil, 10},
		{"override", 1024, 100000, []int{7}, 7},
		{"override above max", 64, 100000, []int{256}, 64},
		{"first positive override", 1024, 100000, []int{0, 32}, 32},
		{"zero max", 0, 10, nil, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := threadgroupWidth(tt.max, tt.n, tt.overrides...); got != tt.want {
				t.Errorf("threadgroupWidth() = %d, want %d", got, tt.want)
			}
		})
	}
}
