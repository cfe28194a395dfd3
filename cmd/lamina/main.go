package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"lamina/internal/heap"
	"lamina/internal/interp"
	"lamina/internal/ir"
	"lamina/internal/layout"
	"lamina/internal/logger"
	"lamina/internal/lower"
)

func usage() {
	fmt.Fprintln(os.Stderr, "lamina - block IR compiler and runtime")
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  lamina list")
	fmt.Fprintln(os.Stderr, "  lamina run <program> [n]")
	fmt.Fprintln(os.Stderr, "  lamina ir <program> [n]")
	fmt.Fprintln(os.Stderr, "  lamina emit [--out=file] <program> [n]")
	fmt.Fprintln(os.Stderr, "  lamina debug <program> [n]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "flags:")
	fmt.Fprintln(os.Stderr, "  --verbose           enable debug logging")
	fmt.Fprintln(os.Stderr, "  --log=text|json     log output format (default: text)")
	fmt.Fprintln(os.Stderr, "  --out=file          write emit output to file (emit only)")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "programs are built-in; `lamina list` names them")
}

type options struct {
	verbose bool
	logFmt  string
	out     string
	name    string
	n       int64
	hasN    bool
}

func parseOptions(args []string) (options, error) {
	opts := options{logFmt: "text"}
	setName := false
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--verbose" || a == "-v" {
			opts.verbose = true
			continue
		}
		if a == "--log" {
			if i+1 >= len(args) {
				return options{}, fmt.Errorf("missing value for --log")
			}
			i++
			a = "--log=" + args[i]
		}
		if strings.HasPrefix(a, "--log=") {
			v := strings.TrimPrefix(a, "--log=")
			if v != "text" && v != "json" {
				return options{}, fmt.Errorf("unknown log format: %q", v)
			}
			opts.logFmt = v
			continue
		}
		if a == "--out" || a == "-o" {
			if i+1 >= len(args) {
				return options{}, fmt.Errorf("missing value for --out")
			}
			i++
			a = "--out=" + args[i]
		}
		if strings.HasPrefix(a, "--out=") {
			opts.out = strings.TrimPrefix(a, "--out=")
			continue
		}
		if strings.HasPrefix(a, "-") {
			return options{}, fmt.Errorf("unknown flag: %s", a)
		}
		if setName {
			if opts.hasN {
				return options{}, fmt.Errorf("unexpected extra arg: %s", a)
			}
			n, err := strconv.ParseInt(a, 10, 64)
			if err != nil {
				return options{}, fmt.Errorf("bad program input: %q", a)
			}
			opts.n = n
			opts.hasN = true
			continue
		}
		opts.name = a
		setName = true
	}
	return opts, nil
}

// checkFlags rejects flags that have no meaning for the given subcommand.
func checkFlags(cmd string, opts options) error {
	if opts.out != "" && cmd != "emit" {
		return fmt.Errorf("--out only applies to emit")
	}
	return nil
}

func initLogging(opts options) {
	cfg := logger.DefaultConfig()
	if opts.verbose {
		cfg.Level = slog.LevelDebug
	}
	cfg.Format = opts.logFmt
	logger.Init(cfg)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	opts, err := parseOptions(os.Args[2:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	if err := checkFlags(cmd, opts); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	initLogging(opts)

	switch cmd {
	case "list":
		for _, e := range examples() {
			fmt.Fprintf(os.Stdout, "%-12s %s\n", e.name, e.note)
		}
	case "run":
		err = cmdRun(opts)
	case "ir":
		err = cmdIR(opts)
	case "emit":
		err = cmdEmit(opts)
	case "debug":
		err = cmdDebug(opts)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func compileExample(opts options) (*ir.Program, error) {
	if opts.name == "" {
		return nil, fmt.Errorf("missing program name; `lamina list` names the built-ins")
	}
	e, ok := findExample(opts.name)
	if !ok {
		return nil, fmt.Errorf("unknown program: %q", opts.name)
	}
	n := e.def
	if opts.hasN {
		n = opts.n
	}
	p, err := lower.Lower(e.build(n))
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("lowering produced invalid blocks: %w", err)
	}
	logger.Debug("lowered", "program", opts.name, "blocks", len(p.Blocks))
	return p, nil
}

func cmdRun(opts options) error {
	p, err := compileExample(opts)
	if err != nil {
		return err
	}
	h := heap.New()
	m, err := interp.New(p, h)
	if err != nil {
		return err
	}
	res, err := m.Run()
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, h.Format(res))
	if err := h.Release(res); err != nil {
		return err
	}
	if h.Live() != 0 {
		return fmt.Errorf("%d object(s) leaked", h.Live())
	}
	logger.Debug("run finished", "allocs", h.Allocs(), "frees", h.Frees())
	return nil
}

func cmdIR(opts options) error {
	p, err := compileExample(opts)
	if err != nil {
		return err
	}
	fmt.Fprint(os.Stdout, p.Format())
	return nil
}

func cmdEmit(opts options) error {
	p, err := compileExample(opts)
	if err != nil {
		return err
	}
	l, err := layout.Compute(p)
	if err != nil {
		return err
	}
	var w io.Writer = os.Stdout
	if opts.out != "" {
		f, err := os.Create(opts.out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return layout.WriteYAML(w, p, l)
}

func debugHelp(out io.Writer) {
	fmt.Fprintln(out, "commands:")
	fmt.Fprintln(out, "  step [n]   execute n steps (default 1)")
	fmt.Fprintln(out, "  run        execute until the program halts")
	fmt.Fprintln(out, "  where      show the current block and position")
	fmt.Fprintln(out, "  locals     show the activation's bindings and their values")
	fmt.Fprintln(out, "  stack      show pending call frames")
	fmt.Fprintln(out, "  slots      show the current block's frame layout")
	fmt.Fprintln(out, "  heap       show live object count and counters")
	fmt.Fprintln(out, "  quit       stop debugging")
}

func cmdDebug(opts options) error {
	p, err := compileExample(opts)
	if err != nil {
		return err
	}
	l, err := layout.Compute(p)
	if err != nil {
		return err
	}
	h := heap.New()
	m, err := interp.New(p, h)
	if err != nil {
		return err
	}

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	printWhere(os.Stdout, m)
	for {
		line, err := ln.Prompt("(lamina) ")
		if err == io.EOF || err == liner.ErrPromptAborted {
			fmt.Fprintln(os.Stdout)
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		ln.AppendHistory(line)
		fields := strings.Fields(line)
		switch fields[0] {
		case "step", "s":
			n := 1
			if len(fields) > 1 {
				n, err = strconv.Atoi(fields[1])
				if err != nil || n < 1 {
					fmt.Fprintf(os.Stdout, "bad step count: %s\n", fields[1])
					continue
				}
			}
			for i := 0; i < n && !m.Done(); i++ {
				if err := m.Step(); err != nil {
					fmt.Fprintf(os.Stdout, "error: %v\n", err)
					break
				}
			}
			printWhere(os.Stdout, m)
		case "run", "r":
			for !m.Done() {
				if err := m.Step(); err != nil {
					fmt.Fprintf(os.Stdout, "error: %v\n", err)
					break
				}
			}
			printWhere(os.Stdout, m)
		case "where", "w":
			printWhere(os.Stdout, m)
		case "locals", "l":
			if m.Done() {
				fmt.Fprintln(os.Stdout, "halted, no activation")
				continue
			}
			for _, name := range m.Locals() {
				a, _ := m.Lookup(name)
				fmt.Fprintf(os.Stdout, "  %%%s = %s\n", name, h.Format(a))
			}
		case "stack":
			fmt.Fprintf(os.Stdout, "depth %d\n", m.Depth())
		case "slots":
			if m.Done() {
				fmt.Fprintln(os.Stdout, "halted, no activation")
				continue
			}
			bl := l.Blocks[m.Block().ID]
			fmt.Fprint(os.Stdout, bl.FormatBlock())
		case "heap":
			fmt.Fprintf(os.Stdout, "live %d, allocs %d, frees %d\n", h.Live(), h.Allocs(), h.Frees())
		case "help", "h", "?":
			debugHelp(os.Stdout)
		case "quit", "q", "exit":
			return nil
		default:
			fmt.Fprintf(os.Stdout, "unknown command: %s\n", fields[0])
			debugHelp(os.Stdout)
		}
	}
}

func printWhere(out io.Writer, m *interp.Machine) {
	if m.Done() {
		if m.Failed() {
			fmt.Fprintln(out, "halted with error")
			return
		}
		fmt.Fprintf(out, "halted, result %s\n", m.Heap().Format(m.Result()))
		return
	}
	b := m.Block()
	fmt.Fprintf(out, "b%d %s pc=%d depth=%d\n", b.ID, b.Name, m.PC(), m.Depth())
	if m.PC() < len(b.Instrs) {
		fmt.Fprintf(out, "  next: %s\n", ir.FormatInstr(b.Instrs[m.PC()]))
	} else if b.Term != nil {
		fmt.Fprintf(out, "  next: %s\n", ir.FormatTerm(b.Term))
	}
}
