package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/wippyai/ancvm"
	"github.com/wippyai/ancvm/config"
	"github.com/wippyai/ancvm/errors"
	"github.com/wippyai/ancvm/program"
	"github.com/wippyai/ancvm/runtime"
)

// Exit codes.
const (
	exitOK    = 0
	exitError = 1 // usage, configuration, load, link or verification
	exitTrap  = 2
)

func main() {
	var (
		configPath  = flag.String("config", config.DefaultPath(), "Path to config file")
		list        = flag.Bool("list", false, "List exported functions and exit")
		inspect     = flag.Bool("inspect", false, "Print the linked module and exit")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
		verbose     = flag.Bool("v", false, "Debug logging")
	)
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: ancvm [flags] <module.ancm> [function] [args...]")
		fmt.Fprintln(os.Stderr, "       ancvm -list <module.ancm>")
		fmt.Fprintln(os.Stderr, "       ancvm -inspect <module.ancm>")
		fmt.Fprintln(os.Stderr, "       ancvm -i <module.ancm>  (interactive mode)")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(exitError)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}
	logger, err := newLogger(cfg.Log, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}
	defer func() { _ = logger.Sync() }()
	runtime.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := options{
		path:        flag.Arg(0),
		args:        flag.Args()[1:],
		list:        *list,
		inspect:     *inspect,
		interactive: *interactive,
	}
	if !opts.interactive && len(opts.args) == 0 && !opts.list && !opts.inspect {
		opts.interactive = term.IsTerminal(int(os.Stdout.Fd()))
	}

	code := run(ctx, cfg, logger, opts)
	_ = logger.Sync()
	os.Exit(code)
}

type options struct {
	path        string
	args        []string
	list        bool
	inspect     bool
	interactive bool
}

// newLogger builds the process logger from the [log] section. Verbose forces
// debug level.
func newLogger(c config.Log, verbose bool) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts options) int {
	rt, err := runtime.New(ctx, runtime.OptionsFromConfig(cfg, logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}
	defer rt.Close(context.WithoutCancel(ctx))

	prog, err := rt.Load(ctx, opts.path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}

	switch {
	case opts.inspect:
		printProgram(os.Stdout, prog)
		return exitOK
	case opts.list:
		printExports(os.Stdout, prog)
		return exitOK
	}

	proc, err := rt.Start(ctx, prog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: start: %v\n", err)
		return exitCode(err)
	}

	if opts.interactive {
		err := runInteractive(ctx, opts.path, prog, proc)
		if cerr := proc.Close(context.WithoutCancel(ctx)); err == nil {
			err = cerr
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitCode(err)
		}
		return exitOK
	}

	code := call(ctx, prog, proc, opts.args)
	if err := proc.Close(context.WithoutCancel(ctx)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: exit: %v\n", err)
		if code == exitOK {
			code = exitCode(err)
		}
	}
	return code
}

// call runs the named export, or main when no name is given, and prints
// its results.
func call(ctx context.Context, prog *program.Program, proc *runtime.Process, args []string) int {
	name := "main"
	if len(args) > 0 {
		name, args = args[0], args[1:]
	}
	fn, err := proc.Lookup(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "Use -list to see the exported functions.")
		return exitError
	}
	vals, err := ancvm.ParseArgs(fn.Sig.Params, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s%s: %v\n", name, fn.Sig, err)
		return exitError
	}

	results, err := proc.Call(ctx, name, vals...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: call %s: %v\n", name, err)
		return exitCode(err)
	}
	if len(results) > 0 {
		fmt.Println(ancvm.FormatResults(fn.Sig.Results, results))
	}
	return exitOK
}

func exitCode(err error) int {
	if stderrors.Is(err, errors.ErrTrap) {
		return exitTrap
	}
	return exitError
}

// formatFunc renders name(params) -> results.
func formatFunc(name string, fn *program.Function) string {
	params := make([]string, len(fn.Sig.Params))
	for i, p := range fn.Sig.Params {
		params[i] = p.String()
	}
	out := name + "(" + strings.Join(params, ", ") + ")"
	if len(fn.Sig.Results) > 0 {
		results := make([]string, len(fn.Sig.Results))
		for i, r := range fn.Sig.Results {
			results[i] = r.String()
		}
		out += " -> " + strings.Join(results, ", ")
	}
	return out
}
