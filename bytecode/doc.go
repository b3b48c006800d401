// Package bytecode provides the module binary format: decoding, encoding,
// structural validation and the instruction model.
//
// A module binary starts with the magic "\0anc", a format version, and the
// module name and semantic version. Sections follow in increasing id order:
//
//	type, link, import, library, function, native, app, data, export,
//	code, start, exit
//
// Custom sections may appear anywhere; the custom "name" section carries
// debug names for functions.
//
// # Parsing
//
//	data, _ := os.ReadFile("app.ancm")
//	module, err := bytecode.ParseModuleValidate(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Building
//
// Modules can be assembled in Go, which is how tests and tools produce them:
//
//	b := bytecode.NewBuilder("math", bytecode.Version{Major: 1})
//	t := b.Type([]bytecode.ValType{bytecode.ValI32, bytecode.ValI32}, []bytecode.ValType{bytecode.ValI32})
//	add := b.Func(t, nil,
//	    bytecode.LocalLoad(bytecode.AccessI32S, 0, 0),
//	    bytecode.LocalLoad(bytecode.AccessI32S, 1, 0),
//	    bytecode.Op(bytecode.OpI32Add),
//	    bytecode.End(),
//	)
//	b.ExportFunc("add", add)
//	data := b.Bytes()
//
// Function bodies are checked for control flow and stack discipline when a
// module is linked (see package program).
package bytecode
