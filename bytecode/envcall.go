package bytecode

// EnvCall identifies a runtime service reachable through the envcall instruction.
type EnvCall uint32

// Environment calls.
const (
	EnvRuntimeVersion EnvCall = 0x01
	EnvTimeNow        EnvCall = 0x02
	EnvThreadID       EnvCall = 0x10
	EnvThreadSpawn    EnvCall = 0x11
	EnvThreadJoin     EnvCall = 0x12
	EnvThreadSleep    EnvCall = 0x13
	EnvThreadSend     EnvCall = 0x14
	EnvThreadReceive  EnvCall = 0x15
	EnvThreadRunning  EnvCall = 0x16
	EnvStreamSize     EnvCall = 0x20
	EnvStreamRead     EnvCall = 0x21
	EnvStreamClose    EnvCall = 0x22
	EnvNativeRead     EnvCall = 0x30
	EnvNativeWrite    EnvCall = 0x31
)

// EnvSignature is the fixed operand shape of an environment call.
type EnvSignature struct {
	Name    string
	Params  []ValType
	Results []ValType
}

var envCalls = map[EnvCall]EnvSignature{
	EnvRuntimeVersion: {"runtime_version", nil, []ValType{ValI64}},
	EnvTimeNow:        {"time_now", nil, []ValType{ValI64}},
	EnvThreadID:       {"thread_id", nil, []ValType{ValI64}},
	EnvThreadSpawn:    {"thread_spawn", []ValType{ValI32, ValI64}, []ValType{ValI64}},
	EnvThreadJoin:     {"thread_join", []ValType{ValI64}, []ValType{ValI64, ValI32}},
	EnvThreadSleep:    {"thread_sleep", []ValType{ValI64}, nil},
	EnvThreadSend:     {"thread_send", []ValType{ValI64, ValI64}, []ValType{ValI32}},
	EnvThreadReceive:  {"thread_receive", nil, []ValType{ValI64, ValI32}},
	EnvThreadRunning:  {"thread_running", []ValType{ValI64}, []ValType{ValI32}},
	EnvStreamSize:     {"stream_size", []ValType{ValI64}, []ValType{ValI64}},
	EnvStreamRead:     {"stream_read", []ValType{ValI64, ValI64}, []ValType{ValI64}},
	EnvStreamClose:    {"stream_close", []ValType{ValI64}, nil},
	EnvNativeRead:     {"native_read", []ValType{ValI64, ValI64, ValI64}, nil},
	EnvNativeWrite:    {"native_write", []ValType{ValI64, ValI64, ValI64}, nil},
}

// LookupEnvCall returns the signature of an environment call.
func LookupEnvCall(id EnvCall) (EnvSignature, bool) {
	sig, ok := envCalls[id]
	return sig, ok
}

func (e EnvCall) String() string {
	if sig, ok := envCalls[e]; ok {
		return sig.Name
	}
	return "unknown"
}
