//go:build !(darwin || (linux && (amd64 || arm64)))

package ffi

import (
	"context"
	"fmt"
	"runtime"

	"github.com/wippyai/ancvm/interp"
	"github.com/wippyai/ancvm/program"
)

type nativeFunc struct{}

var errUnsupported = fmt.Errorf("native libraries are not supported on %s/%s", runtime.GOOS, runtime.GOARCH)

func openLibrary(string) (uintptr, error) {
	return 0, errUnsupported
}

func closeLibrary(uintptr) error {
	return nil
}

func bindNative(uintptr, *program.Native) (*nativeFunc, error) {
	return nil, failure(StatusLibrary, "bind native symbol", errUnsupported)
}

func (b *Bridge) callNative(context.Context, *interp.Machine, *program.Function, *nativeFunc, []uint64) ([]uint64, error) {
	return nil, failure(StatusLibrary, "call native symbol", errUnsupported)
}

func (b *Bridge) ReadNative(uint64, uint64, uint64) error {
	return failure(StatusLibrary, "read native memory", errUnsupported)
}

func (b *Bridge) WriteNative(uint64, uint64, uint64) error {
	return failure(StatusLibrary, "write native memory", errUnsupported)
}

func newTrampoline(int) (uintptr, error) {
	return 0, errUnsupported
}
