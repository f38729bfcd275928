package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"

	"github.com/chazu/rpgcode/vm"
	"github.com/chazu/rpgcode/vm/dist"
	"github.com/mattn/go-isatty"
)

// handleRunCommand runs programs as threads until they all finish.
func handleRunCommand(args []string) {
	fs := newFlagSet("run")
	verbosity := fs.Int("v", -1, "Log verbosity (overrides [log] verbosity)")
	debug := fs.Bool("debug", false, "Step through the programs on the console")
	restore := fs.String("restore", "", "Continue from a save slot")
	level := fs.String("debug-level", "", "Error reporting: none, errors or warnings")
	resolution := fs.String("resolution", "", "Name resolution: global or local")
	allow := fs.String("allow", "", "Comma-separated builtins bundles may call (default: all)")
	fs.Parse(args)

	m := loadManifest()
	if *level != "" {
		m.Interpreter.DebugLevel = *level
	}
	if *resolution != "" {
		m.Interpreter.Resolution = *resolution
	}
	if err := m.Validate(); err != nil {
		fatalf("%v", err)
	}
	configureLogging(m, *verbosity)

	programs := fs.Args()
	if len(programs) == 0 {
		programs = m.Project.Programs
	}
	if len(programs) == 0 && *restore == "" {
		fatalf("no programs to run (name them or list them in [project] programs)")
	}

	policy := dist.AllowAll()
	if *allow != "" {
		policy = dist.AllowOnly(strings.Split(*allow, ","))
	}

	r := newRuntime(m, policy, os.Stdout)
	defer r.close()

	if *debug {
		if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
			fatalf("-debug needs an interactive terminal on stdin")
		}
		bps := vm.NewBreakpoints()
		con := newConsole(os.Stdin, os.Stdout, bps)
		r.onSpawn = func(p *vm.Program) {
			p.Attach(con, bps).Pause()
		}
	}

	if *restore != "" {
		if err := r.restore(*restore); err != nil {
			fatalf("%v", err)
		}
	} else if err := r.start(programs); err != nil {
		fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := r.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fatalf("%v", err)
	}

	if failed := r.failed(); len(failed) > 0 {
		for _, t := range failed {
			log.Errorf("thread %s failed: %s", t.Name, t.Err())
		}
		r.close()
		os.Exit(1)
	}
}
