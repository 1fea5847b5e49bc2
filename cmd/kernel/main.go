// Command kernel is the boot entry point: it wires the five kernel-core
// components (frame allocator, address-space manager, scheduler, VFS,
// process/thread lifecycle) into a single running system the way a
// freestanding kernel's entry assembly would, generalized onto hosted
// Go so the wiring itself can be exercised and tested without a real
// UEFI loader. On real hardware, kernel entry receives
// (framebuffer_base, framebuffer_size) in its first two argument
// registers and a UEFI memory map the loader has already placed
// somewhere readable; this hosted entry point takes no framebuffer
// information, and stands in for the memory map with a single
// conventional run whose size is the -mempages flag.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sync/errgroup"

	"caller"
	"frame"
	"fs"
	"proc"
	"sched"
	"ustr"
	"vm"
)

func main() {
	numCPU := flag.Int("cpus", 4, "number of logical CPUs to schedule across")
	memPages := flag.Int("mempages", 1<<16, "number of 4 KiB frames of conventional memory to simulate")
	initPath := flag.String("init", "/mnt/init", "VFS path of the first process's ELF image")
	flag.Parse()

	if err := run(*numCPU, *memPages, *initPath); err != nil {
		log.Fatal(err)
	}
}

func run(numCPU, memPages int, initPath string) error {
	alloc := frame.NewAllocator([]frame.MemDesc{
		{PhysStart: 0, PageCount: memPages, Typ: frame.Conventional},
	})

	kmap, err := vm.NewKernelMap(alloc)
	if err != nil {
		return fmt.Errorf("kernel: building kernel identity map: %w", err)
	}

	s := sched.New(numCPU)

	fsys, ferr := fs.New(alloc)
	if ferr != 0 {
		return fmt.Errorf("kernel: building vfs: %v", ferr)
	}

	pm := proc.New(s, alloc, kmap, fsys)

	if err := bootInit(pm, initPath); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	return runCPUs(ctx, s, numCPU)
}

// bootInit starts the first process and thread from initPath:
// create_process, LoadImage, create_thread, wakeup_thread, end to end.
// It mounts nothing, so initPath must already resolve in the VFS that
// fs.New built (a root directory with devfs at /dev).
func bootInit(pm *proc.Manager, initPath string) error {
	pid, perr := pm.CreateProcess()
	if perr != 0 {
		return fmt.Errorf("kernel: create_process: %v", perr)
	}

	entry, stackTop, lerr := pm.LoadImage(pid, ustr.Ustr(initPath))
	if lerr != 0 {
		return fmt.Errorf("kernel: loading %s: %v", initPath, lerr)
	}

	tid, terr := pm.CreateThread(pid, entry, stackTop, 0)
	if terr != 0 {
		return fmt.Errorf("kernel: create_thread: %v", terr)
	}
	if werr := pm.WakeupThread(tid, nil); werr != 0 {
		return fmt.Errorf("kernel: wakeup_thread: %v", werr)
	}
	return nil
}

// runCPUs starts one run loop per logical CPU, fanned out with
// errgroup, in place of Biscuit's per-CPU goroutines launched directly
// off runtime.MAXCPUS (out of reach here since that relies on its
// forked runtime). The first CPU loop to return a non-nil error cancels
// every other CPU's context.
func runCPUs(ctx context.Context, s *sched.Scheduler, numCPU int) error {
	g, ctx := errgroup.WithContext(ctx)
	for cpu := 0; cpu < numCPU; cpu++ {
		cpu := cpu
		g.Go(func() error {
			return cpuLoop(ctx, s, cpu)
		})
	}
	return g.Wait()
}

// cpuLoop repeatedly schedules and runs the next ready thread on cpu.
// There is no real hardware context switch in this hosted model, so
// "running" a thread is a no-op placeholder for the interval between
// Schedule and Preempt; a real entry point would instead resume the
// thread's saved Context here and return only on the next timer
// interrupt or syscall.
func cpuLoop(ctx context.Context, s *sched.Scheduler, cpu int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("kernel: cpu %d fatal: %v\n%s", cpu, r, caller.Dump(2))
		}
	}()
	const quantum = time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if t := s.Schedule(cpu); t != nil {
			_ = t.Context // the seam a real context switch would resume from
			time.Sleep(quantum)
			s.Preempt(cpu)
			continue
		}
		// idle: nothing runnable on this CPU right now
		time.Sleep(quantum)
	}
}
