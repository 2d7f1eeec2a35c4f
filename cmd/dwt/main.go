// Command dwt is the interpreter's command-line driver (spec §6
// "CLI"). It keeps the teacher's (cmd/smog) hand-dispatched
// `os.Args[1]` subcommand shape — run/repl/compile/disassemble/
// version/help — but parses each subcommand's own flags with the
// standard library `flag` package rather than a CLI framework, since
// no repo in the retrieval pack reaches for one (see DESIGN.md).
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/kristofer/dwt/internal/bytecode"
	"github.com/kristofer/dwt/internal/compiler"
	"github.com/kristofer/dwt/internal/diag"
	"github.com/kristofer/dwt/internal/ffi"
	"github.com/kristofer/dwt/internal/object"
	"github.com/kristofer/dwt/internal/parser"
)

const banner = "dwt 0.5.0"

func main() {
	if len(os.Args) < 2 {
		fmt.Println(banner)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		cmdRun(os.Args[2:])
	case "repl":
		cmdRepl(os.Args[2:])
	case "compile":
		cmdCompile(os.Args[2:])
	case "disassemble", "disasm":
		cmdDisassemble(os.Args[2:])
	case "version", "-v", "--version":
		cmdVersion(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		// Bare `dwt file.dwt` runs the file, matching the teacher's
		// "assume it's a file to run" fallback.
		cmdRun(os.Args[1:])
	}
}

func printUsage() {
	fmt.Println(banner)
	fmt.Println("\nUsage:")
	fmt.Println("  dwt [file]                    Run a source file")
	fmt.Println("  dwt run [-O] [-strict] [-threads] [file]")
	fmt.Println("  dwt repl [-O] [-strict]       Start the interactive REPL")
	fmt.Println("  dwt compile [-O] <file>       Compile and print a disassembly, no execution")
	fmt.Println("  dwt disassemble <file>        Alias of compile")
	fmt.Println("  dwt version [file]            Show version (and the file's source digest)")
	fmt.Println("  dwt help                      Show this help")
	fmt.Println("\nFlags:")
	fmt.Println("  -O          enable the peephole optimizer (spec §4.3)")
	fmt.Println("  -strict     IEEE-754 value equality instead of bit equality (spec §3)")
	fmt.Println("  -threads    compile nested function bodies on worker goroutines (spec §4.2, §5)")
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	optimize := fs.Bool("O", false, "enable peephole optimizer")
	strict := fs.Bool("strict", false, "IEEE-754 strict value equality")
	threads := fs.Bool("threads", false, "threaded sub-function compilation")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) < 1 {
		fmt.Fprintln(os.Stderr, "Error: no file specified")
		printUsage()
		os.Exit(1)
	}

	opts := compiler.Options{Optimize: *optimize, Strict: *strict, Threads: *threads}
	ctx := ffi.New(opts, os.Stdout)
	if _, err := ctx.Interpret(rest[0]); err != nil {
		fmt.Fprintln(os.Stderr, formatTopLevelError(rest[0], err))
		os.Exit(1)
	}
}

func cmdCompile(args []string) {
	fs := flag.NewFlagSet("compile", flag.ExitOnError)
	optimize := fs.Bool("O", false, "enable peephole optimizer")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) < 1 {
		fmt.Fprintln(os.Stderr, "Error: no file specified")
		os.Exit(1)
	}
	src, err := os.ReadFile(rest[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	p := parser.New(string(src))
	prog := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, e)
		}
		os.Exit(1)
	}
	ctx := ffi.New(compiler.Options{Optimize: *optimize}, os.Stdout)
	fnVal, _, compileErrs, err := compiler.CompileProgram(prog, ctx.Heap(), ctx.Globals(), ctx.Opts)
	if err != nil {
		if len(compileErrs) > 0 {
			for _, e := range compileErrs {
				fmt.Fprintln(os.Stderr, e)
			}
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
	fnObj := ctx.Heap().Resolve(fnVal)
	fn := fnObj.Data.(*object.FunctionData)
	fmt.Println(bytecode.Disassemble(fn.Code.Code))
}

func cmdDisassemble(args []string) { cmdCompile(args) }

// cmdVersion prints the banner and, given a file argument, the
// SHA-3 digest of its source bytes.
func cmdVersion(args []string) {
	fmt.Println(banner)
	if len(args) < 1 {
		return
	}
	src, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("%s sha3:%s\n", args[0], diag.SourceDigest(src))
}

func cmdRepl(args []string) {
	fs := flag.NewFlagSet("repl", flag.ExitOnError)
	optimize := fs.Bool("O", false, "enable peephole optimizer")
	strict := fs.Bool("strict", false, "IEEE-754 strict value equality")
	fs.Parse(args)

	fmt.Printf("%s REPL\n", banner)
	fmt.Println("Type :quit or :exit to leave.")

	restore, err := setRawIO()
	if err == nil && restore != nil {
		defer restore()
	}

	ctx := ffi.New(compiler.Options{Optimize: *optimize, Strict: *strict}, os.Stdout)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("dwt> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case ":quit", ":exit":
			return
		case "":
			continue
		}
		if _, err := ctx.InterpretSource(line); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

func formatTopLevelError(path string, err error) string {
	return diag.Format(diag.Chain(diag.Error, diag.Token{File: path, Line: 1, Column: 1}, err.Error()), nil)
}
