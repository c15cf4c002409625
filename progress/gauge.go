// Package progress 提供可观察的进度计量器.
//
// 计量器支持有界（可计算百分比）和无界两种模式，
// 最大步数提示为负数时表示进度无法预估.
// 每次修改都会在调用返回前按注册顺序同步通知所有监听器.
//
// 示例:
//
//	g := progress.New()
//	g.AddListener(progress.ListenerFunc(func(s progress.Snapshot) {
//	    fmt.Println(s.Percent)
//	}))
//	g.UpdateMaxHint(10)
//	g.StepBy(5) // 输出 50
package progress

// Gauge 进度计量器接口.
type Gauge interface {
	// UpdateMaxHint 更新最大步数提示，负数表示无界进度.
	UpdateMaxHint(maxHint int)
	// Step 前进一步.
	Step()
	// StepBy 前进指定步数.
	StepBy(steps int)
	// StepTo 将进度设置为指定步数.
	StepTo(steps int)
	// Interrupt 标记进度被中断（例如出错）.
	Interrupt()
	// MarkAsDone 标记进度已完成.
	MarkAsDone()

	CurrentSteps() int
	MaxHint() int

	// InProgress 既未完成也未中断时返回 true.
	InProgress() bool
	Done() bool
	Interrupted() bool

	// Reset 清除步数、完成和中断状态，保留监听器.
	Reset()

	AddListener(l Listener)
	Snapshot() Snapshot
}

// Listener 进度监听器.
type Listener interface {
	OnUpdate(s Snapshot)
}

// ListenerFunc 函数形式的监听器.
type ListenerFunc func(s Snapshot)

// OnUpdate 实现 Listener.
func (f ListenerFunc) OnUpdate(s Snapshot) {
	f(s)
}

// Snapshot 进度快照，推送给监听器.
type Snapshot struct {
	Steps       int  `json:"steps"`
	MaxHint     int  `json:"max_hint"`
	Percent     int  `json:"percent"`
	Done        bool `json:"done"`
	Interrupted bool `json:"interrupted"`
}

// Indefinite 返回是否为无界进度.
func (s Snapshot) Indefinite() bool {
	return s.MaxHint < 0
}

// percentOf 计算百分比，无界进度返回 -1.
func percentOf(steps, maxHint int) int {
	switch {
	case maxHint < 0:
		return -1
	case maxHint == 0:
		return 0
	}
	p := steps * 100 / maxHint
	if p > 100 {
		p = 100
	}
	if p < 0 {
		p = 0
	}
	return p
}
