// main.go
//
// C-callable shim over sim/bridge, built as a shared library for foreign
// network simulators:
//
//	go build -buildmode=c-shared -o libwhisker.so ./cmd/libwhisker
//
// The three exported functions are the entire contract. Nothing here may
// panic across the boundary: failures surface as a zero handle or the
// zero action record.

package main

/*
#include <stdint.h>

typedef struct {
	uint32_t new_window;
	double   intersend_seconds;
} whisker_action;
*/
import "C"

import (
	"github.com/whisker-sim/whisker-sim/sim/bridge"
)

//export load_dna
func load_dna(path *C.char) C.uintptr_t {
	h, err := bridge.Load(C.GoString(path))
	if err != nil {
		return 0
	}
	return C.uintptr_t(h)
}

//export free_dna
func free_dna(handle C.uintptr_t) {
	// An invalid or double-freed handle is a caller error; swallow the
	// failure rather than abort the host process.
	defer func() { _ = recover() }()
	bridge.Free(bridge.Handle(handle))
}

//export get_action
func get_action(handle C.uintptr_t, ackEwmaMs, sendEwmaMs, rttRatio C.double, currentWindow C.uint32_t) (out C.whisker_action) {
	defer func() {
		if recover() != nil {
			out = C.whisker_action{}
		}
	}()
	action, err := bridge.GetAction(bridge.Handle(handle),
		float64(ackEwmaMs), float64(sendEwmaMs), float64(rttRatio), uint32(currentWindow))
	if err != nil {
		return C.whisker_action{}
	}
	return C.whisker_action{
		new_window:        C.uint32_t(action.NewWindow),
		intersend_seconds: C.double(action.IntersendSeconds),
	}
}

func main() {}
