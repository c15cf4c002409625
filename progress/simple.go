package progress

import "sync"

// SimpleGauge 默认的进度计量器实现.
//
// 通过 Wrap 包装外部计量器时，读写操作委托给被包装的计量器，
// 自身只负责维护监听器并在每次修改后发出通知.
type SimpleGauge struct {
	mu          sync.RWMutex
	delegate    Gauge
	maxHint     int
	steps       int
	done        bool
	interrupted bool
	listeners   []Listener
}

// New 创建无界计量器.
func New() *SimpleGauge {
	return &SimpleGauge{maxHint: -1}
}

// NewBounded 创建指定最大步数的计量器.
func NewBounded(maxHint int) *SimpleGauge {
	return &SimpleGauge{maxHint: maxHint}
}

// Wrap 包装外部计量器.
// 已经是 *SimpleGauge 时原样返回.
func Wrap(g Gauge) *SimpleGauge {
	if g == nil {
		return New()
	}
	if sg, ok := g.(*SimpleGauge); ok {
		return sg
	}
	return &SimpleGauge{delegate: g}
}

// UpdateMaxHint 实现 Gauge.
func (g *SimpleGauge) UpdateMaxHint(maxHint int) {
	g.mutate(func() {
		if g.delegate != nil {
			g.delegate.UpdateMaxHint(maxHint)
			return
		}
		g.maxHint = maxHint
	})
}

// Step 实现 Gauge.
func (g *SimpleGauge) Step() {
	g.StepBy(1)
}

// StepBy 实现 Gauge.
func (g *SimpleGauge) StepBy(steps int) {
	g.mutate(func() {
		if g.delegate != nil {
			g.delegate.StepBy(steps)
			return
		}
		g.steps += steps
	})
}

// StepTo 实现 Gauge.
func (g *SimpleGauge) StepTo(steps int) {
	g.mutate(func() {
		if g.delegate != nil {
			g.delegate.StepTo(steps)
			return
		}
		g.steps = steps
	})
}

// Interrupt 实现 Gauge.
func (g *SimpleGauge) Interrupt() {
	g.mutate(func() {
		if g.delegate != nil {
			g.delegate.Interrupt()
			return
		}
		g.interrupted = true
		g.done = false
	})
}

// MarkAsDone 实现 Gauge.
// 已中断的计量器不能再标记为完成.
func (g *SimpleGauge) MarkAsDone() {
	g.mutate(func() {
		if g.delegate != nil {
			g.delegate.MarkAsDone()
			return
		}
		if !g.interrupted {
			g.done = true
		}
	})
}

// Reset 实现 Gauge.
func (g *SimpleGauge) Reset() {
	g.mutate(func() {
		if g.delegate != nil {
			g.delegate.Reset()
			return
		}
		g.steps = 0
		g.done = false
		g.interrupted = false
	})
}

// CurrentSteps 实现 Gauge.
func (g *SimpleGauge) CurrentSteps() int {
	if g.delegate != nil {
		return g.delegate.CurrentSteps()
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.steps
}

// MaxHint 实现 Gauge.
func (g *SimpleGauge) MaxHint() int {
	if g.delegate != nil {
		return g.delegate.MaxHint()
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.maxHint
}

// Done 实现 Gauge.
// 有界计量器在步数达到最大步数时自动视为完成.
func (g *SimpleGauge) Done() bool {
	if g.delegate != nil {
		return g.delegate.Done()
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.doneLocked()
}

func (g *SimpleGauge) doneLocked() bool {
	if g.interrupted {
		return false
	}
	return g.done || (g.maxHint > 0 && g.steps >= g.maxHint)
}

// Interrupted 实现 Gauge.
func (g *SimpleGauge) Interrupted() bool {
	if g.delegate != nil {
		return g.delegate.Interrupted()
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.interrupted
}

// InProgress 实现 Gauge.
func (g *SimpleGauge) InProgress() bool {
	return !g.Done() && !g.Interrupted()
}

// Percent 返回当前进度百分比，无界进度返回 -1.
func (g *SimpleGauge) Percent() int {
	return percentOf(g.CurrentSteps(), g.MaxHint())
}

// Snapshot 实现 Gauge.
func (g *SimpleGauge) Snapshot() Snapshot {
	if g.delegate != nil {
		steps, maxHint := g.delegate.CurrentSteps(), g.delegate.MaxHint()
		return Snapshot{
			Steps:       steps,
			MaxHint:     maxHint,
			Percent:     percentOf(steps, maxHint),
			Done:        g.delegate.Done(),
			Interrupted: g.delegate.Interrupted(),
		}
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Snapshot{
		Steps:       g.steps,
		MaxHint:     g.maxHint,
		Percent:     percentOf(g.steps, g.maxHint),
		Done:        g.doneLocked(),
		Interrupted: g.interrupted,
	}
}

// AddListener 实现 Gauge.
func (g *SimpleGauge) AddListener(l Listener) {
	if l == nil {
		return
	}
	g.mu.Lock()
	g.listeners = append(g.listeners, l)
	g.mu.Unlock()
}

// mutate 在写锁内执行修改，释放锁后按注册顺序通知监听器.
// 监听器在锁外调用，可以安全地读取计量器.
func (g *SimpleGauge) mutate(fn func()) {
	g.mu.Lock()
	fn()
	listeners := make([]Listener, len(g.listeners))
	copy(listeners, g.listeners)
	g.mu.Unlock()

	if len(listeners) == 0 {
		return
	}
	snap := g.Snapshot()
	for _, l := range listeners {
		l.OnUpdate(snap)
	}
}
