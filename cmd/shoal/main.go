// Command shoal brings up a configured system, optionally serves the
// inspector, and runs a demonstration process in the foreground.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shoalio/shoal/pkg/async"
	"github.com/shoalio/shoal/pkg/core"
	"github.com/shoalio/shoal/pkg/inspector"
	"github.com/shoalio/shoal/pkg/loop"
	"github.com/shoalio/shoal/pkg/process"
	"github.com/shoalio/shoal/pkg/system"
	"github.com/shoalio/shoal/pkg/worker"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON system config")
	delay := flag.Duration("delay", 250*time.Millisecond, "how long the demo process runs")
	flag.Parse()

	logger := core.NewDefaultLogger()

	cfg := system.DefaultConfig()
	if *configPath != "" {
		loaded, err := system.LoadConfig(*configPath)
		if err != nil {
			logger.Errorf("load config: %v", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if len(cfg.Workers) == 0 {
		logger.Errorf("config declares no workers")
		os.Exit(1)
	}

	sys, err := system.FromConfig(cfg, logger)
	if err != nil {
		logger.Errorf("bring-up: %v", err)
		os.Exit(1)
	}

	if cfg.Inspector.Enabled {
		insp := inspector.New(cfg.Inspector.Addr, func() interface{} { return sys.Status() }, logger)
		insp.Start()
		defer insp.Stop() //nolint:errcheck
	}

	w, err := sys.Worker(cfg.Workers[0].Name)
	if err != nil {
		logger.Errorf("lookup worker: %v", err)
		os.Exit(1)
	}
	scope, err := sys.CreateScope(w)
	if err != nil {
		logger.Errorf("create scope: %v", err)
		os.Exit(1)
	}

	proc := process.New(scope, process.RunnerFunc(func(pw *worker.Worker) (async.Future, error) {
		sched, err := async.For(pw)
		if err != nil {
			return nil, err
		}
		fut := sched.NewFuture()
		deadline := pw.RelativeToDeadlineNs(*delay)
		err = pw.WaitUntilLowLevel(deadline, func(_ *loop.Loop, status error) error {
			if status != nil {
				fut.Fail(status)
			} else {
				fut.Complete(fmt.Sprintf("slept %v on %s", *delay, pw.Name()))
			}
			return nil
		})
		return fut, err
	}))
	proc.SetLogger(logger)
	if err := proc.Launch(); err != nil {
		logger.Errorf("launch: %v", err)
		os.Exit(1)
	}
	logger.Infof("launched %s on %s", proc, w)

	result, err := sys.RunInForeground(func(iw *worker.Worker) (async.Future, error) {
		return proc.CompletionEvent().Future(iw)
	})
	if err != nil {
		logger.Errorf("foreground run: %v", err)
		os.Exit(1)
	}
	logger.Infof("foreground run complete (result=%v, process=%s)", result, proc)
}
