package ffi

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"

	"go.uber.org/zap"

	"github.com/wippyai/ancvm/bytecode"
	"github.com/wippyai/ancvm/memory"
	"github.com/wippyai/ancvm/program"
)

// CallApp runs the executable of an app function and returns its exit code
// and a handle to a stream holding its standard output. A process that
// starts and exits with a non-zero code is not a failure; the code is the
// first result.
func (b *Bridge) CallApp(ctx context.Context, fn *program.Function, args []uint64) ([]uint64, error) {
	app := fn.App
	path, err := exec.LookPath(app.Executable)
	if err != nil {
		return nil, failure(StatusSpawn, "find executable "+app.Executable, err)
	}

	argv, err := renderArgs(app, args)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, path, argv...)

	if app.Stdin.Set {
		in := []byte(app.Stdin.Literal)
		if app.Stdin.Param >= 0 {
			buf, err := b.heap.Bytes(args[app.Stdin.Param])
			if err != nil {
				return nil, err
			}
			in = bytes.Clone(buf)
		}
		cmd.Stdin = bytes.NewReader(in)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	code := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !stderrors.As(err, &exitErr) {
			return nil, failure(StatusSpawn, "run "+path, err)
		}
		code = exitErr.ExitCode()
		b.logger.Debug("app exited with error",
			zap.String("func", fn.QualifiedName()),
			zap.Int("code", code),
			zap.ByteString("stderr", stderr.Bytes()))
	}

	handle := b.streams.Insert(NewStream(stdout.Bytes()))
	if handle == 0 {
		return nil, failure(StatusOther, "stream table is closed", nil)
	}
	return []uint64{memory.I32(uint32(int32(code))), uint64(handle)}, nil
}

// renderArgs builds argv from the compiled option template.
func renderArgs(app *program.App, args []uint64) ([]string, error) {
	argv := make([]string, 0, len(app.Args))
	for _, a := range app.Args {
		if a.Param < 0 {
			argv = append(argv, a.Literal)
			continue
		}
		if a.Param >= len(args) {
			return nil, failure(StatusSignature, fmt.Sprintf("app parameter %d not supplied", a.Param), nil)
		}
		v := args[a.Param]
		if v == 0 && a.Default != "" {
			argv = append(argv, a.Default)
			continue
		}
		argv = append(argv, formatValue(a.Type, v))
	}
	return argv, nil
}

// formatValue renders an operand in decimal.
func formatValue(t bytecode.ValType, v uint64) string {
	switch t {
	case bytecode.ValI32:
		return strconv.FormatInt(int64(int32(uint32(v))), 10)
	case bytecode.ValF32:
		return strconv.FormatFloat(float64(math.Float32frombits(uint32(v))), 'g', -1, 32)
	case bytecode.ValF64:
		return strconv.FormatFloat(math.Float64frombits(v), 'g', -1, 64)
	default:
		return strconv.FormatInt(int64(v), 10)
	}
}
