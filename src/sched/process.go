package sched

import (
	"sync"

	"defs"
)

/// PageMapper is the address-space handle a process optionally owns.
/// sched depends only on this narrow interface rather than importing vm
/// directly, keeping the scheduler and the address-space manager
/// decoupled.
type PageMapper interface {
	Destroy()
}

/// Process is a dense map of owned threads plus an optional user page
/// map. It is destroyed after all its threads are joined.
type Process struct {
	Id      defs.Pid_t
	Threads map[defs.Tid_t]*Thread

	// PMLock guards PageMap installation and teardown.
	PMLock  sync.Mutex
	PageMap PageMapper
}

func newProcess(id defs.Pid_t) *Process {
	return &Process{Id: id, Threads: make(map[defs.Tid_t]*Thread)}
}

/// SetPageMap installs the process's user address space.
func (p *Process) SetPageMap(pm PageMapper) {
	p.PMLock.Lock()
	defer p.PMLock.Unlock()
	p.PageMap = pm
}
