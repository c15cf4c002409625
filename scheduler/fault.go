package scheduler

import (
	"errors"
	"fmt"
	"reflect"
)

// FaultKind 故障类型.
type FaultKind string

// 内置故障类型.
const (
	// FaultConfiguration 启动配置错误.
	FaultConfiguration FaultKind = "configuration"
	// FaultDuplicateRouteMapping 路由重复映射.
	FaultDuplicateRouteMapping FaultKind = "duplicate_route_mapping"
	// FaultRecoverable 可恢复错误，仅记录日志.
	FaultRecoverable FaultKind = "recoverable"
)

// DefaultFatalKinds 默认的致命故障类型集合.
var DefaultFatalKinds = []FaultKind{FaultConfiguration, FaultDuplicateRouteMapping}

// Fault 带类型的任务故障.
type Fault struct {
	Kind FaultKind
	Err  error
}

// NewFault 创建故障.
func NewFault(kind FaultKind, err error) *Fault {
	return &Fault{Kind: kind, Err: err}
}

// ConfigurationError 创建配置类故障.
func ConfigurationError(format string, args ...any) *Fault {
	return NewFault(FaultConfiguration, fmt.Errorf(format, args...))
}

// DuplicateRouteMappingError 创建路由重复映射故障.
func DuplicateRouteMappingError(format string, args ...any) *Fault {
	return NewFault(FaultDuplicateRouteMapping, fmt.Errorf(format, args...))
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// FaultKind 返回故障类型.
func (f *Fault) FaultKind() FaultKind {
	return f.Kind
}

// kinded 携带故障类型的错误.
type kinded interface {
	FaultKind() FaultKind
}

// FaultPolicy 致命故障判定策略.
//
// 在 Manager 创建时一次性构建，之后只读.
type FaultPolicy struct {
	kinds     map[FaultKind]struct{}
	sentinels []error
}

// NewFaultPolicy 创建故障策略.
func NewFaultPolicy(kinds []FaultKind, sentinels []error) *FaultPolicy {
	p := &FaultPolicy{kinds: make(map[FaultKind]struct{}, len(kinds))}
	for _, k := range kinds {
		if k == FaultRecoverable {
			continue
		}
		p.kinds[k] = struct{}{}
	}
	for _, s := range sentinels {
		if s != nil {
			p.sentinels = append(p.sentinels, s)
		}
	}
	return p
}

// Classify 沿错误链查找第一个致命故障.
// 返回的 cause 是错误链中被判定为致命的那一环.
func (p *FaultPolicy) Classify(err error) (cause error, fatal bool) {
	if err == nil || p == nil {
		return nil, false
	}
	walkChain(err, func(e error) bool {
		if p.isFatal(e) {
			cause, fatal = e, true
			return false
		}
		return true
	})
	return cause, fatal
}

// IsFatal 判断错误链中是否包含致命故障.
func (p *FaultPolicy) IsFatal(err error) bool {
	_, fatal := p.Classify(err)
	return fatal
}

func (p *FaultPolicy) isFatal(e error) bool {
	if k, ok := e.(kinded); ok {
		if _, hit := p.kinds[k.FaultKind()]; hit {
			return true
		}
	}
	for _, s := range p.sentinels {
		if sameError(e, s) {
			return true
		}
	}
	return false
}

// sameError 只比较当前这一环，不展开错误链.
func sameError(e, target error) bool {
	if reflect.TypeOf(e).Comparable() && e == target {
		return true
	}
	if x, ok := e.(interface{ Is(error) bool }); ok {
		return x.Is(target)
	}
	return false
}

// walkChain 深度优先遍历错误链，fn 返回 false 时停止.
func walkChain(err error, fn func(error) bool) bool {
	for err != nil {
		if !fn(err) {
			return false
		}
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			for _, e := range u.Unwrap() {
				if !walkChain(e, fn) {
					return false
				}
			}
			return true
		default:
			err = errors.Unwrap(err)
		}
	}
	return true
}

// panicError 任务 panic 后转换得到的错误.
type panicError struct {
	value any
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

// Unwrap 在 panic 值本身是 error 时返回它，使故障分类可以看到它.
func (p *panicError) Unwrap() error {
	if err, ok := p.value.(error); ok {
		return err
	}
	return nil
}
