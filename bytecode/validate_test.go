package bytecode

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	i32 := []ValType{ValI32}
	tests := []struct {
		name    string
		mod     Module
		wantErr string
	}{
		{
			name: "valid empty",
			mod:  Module{},
		},
		{
			name:    "function bad type index",
			mod:     Module{Funcs: []Func{{Type: 3}}, Code: []FuncBody{{}}},
			wantErr: "invalid type index",
		},
		{
			name:    "import bad link",
			mod:     Module{Types: []FuncType{{}}, Imports: []Import{{Link: 0, Name: "f"}}},
			wantErr: "invalid link index",
		},
		{
			name:    "code count mismatch",
			mod:     Module{Types: []FuncType{{}}, Funcs: []Func{{Type: 0}}},
			wantErr: "code count",
		},
		{
			name:    "native bad library",
			mod:     Module{Natives: []Native{{Library: 1, Symbol: "add"}}},
			wantErr: "invalid library index",
		},
		{
			name: "app wrong results",
			mod: Module{
				Types: []FuncType{{Results: i32}},
				Funcs: []Func{{Type: 0, Kind: FuncApp}},
				Apps:  []App{{Executable: "cat"}},
			},
			wantErr: "must return (i32, i64)",
		},
		{
			name: "app stdin bound to i32",
			mod: Module{
				Types: []FuncType{{Params: i32, Results: []ValType{ValI32, ValI64}}},
				Funcs: []Func{{Type: 0, Kind: FuncApp}},
				Apps:  []App{{Executable: "cat", Options: []AppOption{{Kind: OptionStdin, Param: 0}}}},
			},
			wantErr: "heap handle",
		},
		{
			name:    "uninit without length",
			mod:     Module{Data: []DataEntry{{Section: SectionUninit, Type: ValI32}}},
			wantErr: "must declare its length",
		},
		{
			name:    "shared read_only",
			mod:     Module{Data: []DataEntry{{Section: SectionReadOnly, Type: ValI32, Init: make([]byte, 4), Shared: true}}},
			wantErr: "cannot be marked shared",
		},
		{
			name:    "init longer than length",
			mod:     Module{Data: []DataEntry{{Section: SectionReadWrite, Type: ValByte, Length: 2, Init: []byte("abc")}}},
			wantErr: "exceeds length",
		},
		{
			name:    "bad alignment",
			mod:     Module{Data: []DataEntry{{Section: SectionReadWrite, Type: ValByte, Length: 4, Align: 3}}},
			wantErr: "power of two",
		},
		{
			name:    "duplicate export",
			mod:     Module{Data: []DataEntry{{Section: SectionReadWrite, Type: ValI32, Length: 4}}, Exports: []Export{{Name: "x", Kind: KindData}, {Name: "x", Kind: KindData}}},
			wantErr: "duplicate export",
		},
		{
			name:    "start out of range",
			mod:     Module{Start: []uint32{0}},
			wantErr: "start function index",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mod.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("got %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
