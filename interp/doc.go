// Package interp executes verified programs.
//
// A Machine is one VM thread: an operand stack, a local frame arena and an
// index-addressed stack of call frames. Function bodies run as flat op
// arrays whose jump targets and stack heights were fixed by the verifier,
// so break and recur are constant-time.
//
// Calls between bytecode functions never recurse on the Go stack. Foreign
// calls leave the machine through its Env; a callback from foreign code
// re-enters it with Invoke and runs above the frame that made the call.
//
// Traps end the current Call with an error matching errors.ErrTrap whose
// Path is the module and function and whose Value is the op index.
package interp
