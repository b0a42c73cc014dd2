package collab

import (
	"sync"
	"time"
)

// Debouncer 在最后一次 Trigger 之后静默 delay 时间才执行 fn，
// 把一连串触发合并成一次执行。Stop 之后不会再执行任何回调。
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	timer   *time.Timer
	gen     uint64 // 每次 Trigger/Cancel 递增，过期的定时器据此放弃执行
	stopped bool
}

// NewDebouncer 创建 Debouncer
func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Trigger 重新开始计时
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if d.stopped || gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.gen++
	d.mu.Unlock()
	d.fn()
}

// Cancel 取消尚未执行的回调，返回是否确实有待执行的回调
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancelLocked()
}

func (d *Debouncer) cancelLocked() bool {
	pending := d.timer != nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	return pending
}

// Flush 立即执行待执行的回调 (如果有)
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.stopped || !d.cancelLocked() {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()
	d.fn()
}

// Pending 返回是否有待执行的回调
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Stop 取消待执行的回调并永久停用
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
	d.stopped = true
}
