// Widow CLI - compiles, runs and inspects Widow programs
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/widow/manifest"
)

var log = commonlog.GetLogger("widow.cli")

func main() {
	verbose := flag.Int("v", 0, "Log verbosity (0 = errors only, 2 = debug)")
	logFile := flag.String("log", "", "Write logs to this file instead of stderr")
	noCache := flag.Bool("no-cache", false, "Compile without consulting the program cache")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: widow [options] <command> [args]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  run [file]               Run a program (.json AST or .wdbc bytecode)\n")
		fmt.Fprintf(os.Stderr, "  compile [-o out] <file>  Compile a .json AST to .wdbc bytecode\n")
		fmt.Fprintf(os.Stderr, "  disasm <file>            Print a bytecode listing\n")
		fmt.Fprintf(os.Stderr, "  inspect <file>           Dump the decoded program structure\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nWith no file, run uses [project] entry from widow.toml.\n")
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fail(err)
	}
	if m == nil {
		m = manifest.Default()
	}

	verbosity := m.Log.Verbosity
	if *verbose > 0 {
		verbosity = *verbose
	}
	var path *string
	if *logFile != "" {
		path = logFile
	} else if m.Log.File != "" {
		f := m.Resolve(m.Log.File)
		path = &f
	}
	commonlog.Configure(verbosity, path)

	e := newEnv(m, m.Cache.Enabled && !*noCache)

	code := 0
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "run":
		code, err = e.run(rest)
	case "compile":
		err = e.compile(rest)
	case "disasm":
		err = e.disasm(rest)
	case "inspect":
		err = e.inspect(rest)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", cmd)
		flag.Usage()
		code = 2
	}
	e.close()

	if err != nil {
		fail(err)
	}
	os.Exit(code)
}

// fail prints err in the coloured diagnostic format and exits with status 1.
func fail(err error) {
	kind := color.New(color.FgRed, color.Bold).SprintFunc()
	pos := color.New(color.FgCyan).SprintFunc()
	fmt.Fprintln(os.Stderr, formatError(err, kind, pos))
	os.Exit(1)
}
