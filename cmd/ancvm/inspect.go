package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/wippyai/ancvm/bytecode"
	"github.com/wippyai/ancvm/program"
)

func printExports(w io.Writer, p *program.Program) {
	fmt.Fprintf(w, "Module: %s\n\nExported functions:\n", p)
	for _, name := range p.ExportNames() {
		if fn, ok := p.Func(name); ok {
			fmt.Fprintf(w, "  %s\n", formatFunc(name, fn))
		}
	}
	var data []string
	for _, name := range p.ExportNames() {
		if e, _ := p.Export(name); e.Data != nil {
			data = append(data, fmt.Sprintf("  %s: %s %s[%d]", name, e.Data.Section, e.Data.Type, e.Data.Length))
		}
	}
	if len(data) > 0 {
		fmt.Fprintf(w, "\nExported data:\n")
		for _, d := range data {
			fmt.Fprintln(w, d)
		}
	}
}

// printProgram dumps the linked program: links, libraries, data layout and
// the function table.
func printProgram(w io.Writer, p *program.Program) {
	fmt.Fprintf(w, "Module: %s\n", p)
	if p.Dir != "" {
		fmt.Fprintf(w, "Directory: %s\n", p.Dir)
	}

	if len(p.Links) > 0 {
		fmt.Fprintf(w, "\nLinks:\n")
		for i, lk := range p.Module.Links {
			target := "unresolved"
			if i < len(p.Links) && p.Links[i] != nil {
				target = p.Links[i].String()
			}
			kind := "shared"
			if lk.Kind == bytecode.LinkLocal {
				kind = "local"
			}
			fmt.Fprintf(w, "  %d %s %s -> %s\n", i, kind, lk.Name, target)
		}
	}

	if len(p.Libraries) > 0 {
		fmt.Fprintf(w, "\nLibraries:\n")
		for _, l := range p.Libraries {
			kind := "native"
			if l.Kind == bytecode.LibraryWasm {
				kind = "wasm"
			}
			fmt.Fprintf(w, "  %d %s %s\n", l.Index, kind, l.Path)
		}
	}

	fmt.Fprintf(w, "\nData regions:\n")
	for _, r := range []program.Region{program.RegionReadOnly, program.RegionReadWrite, program.RegionUninit, program.RegionShared} {
		fmt.Fprintf(w, "  %-10s %d bytes\n", r, p.Layout.Size(r))
	}

	if len(p.Data) > 0 {
		fmt.Fprintf(w, "\nData:\n")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  IDX\tNAME\tSECTION\tTYPE\tLEN\tOFFSET\tIMPORT")
		for _, d := range p.Data {
			imp := ""
			if d.Import != nil {
				imp = d.Import.Name
			}
			fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\t%d\t%d\t%s\n", d.Index, d.Name, d.Section, d.Type, d.Length, d.Offset, imp)
		}
		_ = tw.Flush()
	}

	fmt.Fprintf(w, "\nFunctions:\n")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  IDX\tKIND\tNAME\tTYPE\tFRAME\tSTACK\tOPS")
	for _, fn := range p.Functions {
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\t%d\t%d\t%d\n",
			fn.Index, fn.Kind, fn.Name, fn.Sig, fn.FrameSize, fn.MaxStack, len(fn.Ops))
	}
	_ = tw.Flush()

	if len(p.Start) > 0 || len(p.Exit) > 0 {
		fmt.Fprintf(w, "\nStart:")
		for _, fn := range p.Start {
			fmt.Fprintf(w, " %s", fn.Name)
		}
		fmt.Fprintf(w, "\nExit:")
		for _, fn := range p.Exit {
			fmt.Fprintf(w, " %s", fn.Name)
		}
		fmt.Fprintln(w)
	}
}
