package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/GrenDrake/glulx-assemble/assembleapi"
	"github.com/GrenDrake/glulx-assemble/config"
	"github.com/GrenDrake/glulx-assemble/emitter"
	"github.com/GrenDrake/glulx-assemble/inspect"
	"github.com/GrenDrake/glulx-assemble/parser"
	"github.com/GrenDrake/glulx-assemble/stringtable"
)

// Version information - can be overridden at build time with:
// go build -ldflags "-X main.Version=v1.2.3"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		showHelp    = flag.Bool("help", false, "Show help information")
		configPath  = flag.String("config", "", "Path to a TOML config file (default: platform config dir)")

		apiServer = flag.Bool("api-server", false, "Start HTTP assembly-as-a-service mode")
		apiPort   = flag.Int("port", 0, "API server port (used with -api-server; 0 uses config default)")

		outFile      = flag.String("o", "", "Output story file (default: output.ulx, or config)")
		stackSize    = flag.Uint("stack-size", 0, "Stack size in bytes (0 uses config default)")
		startAddress = flag.String("start", "", "Program start address (hex or decimal); overrides the \"start\" label if given")
		noTime       = flag.Bool("no-time", false, "Omit the build timestamp from the header")

		dumpPretokens   = flag.Bool("dump-pretokens", false, "Dump tokens before preprocessing and exit")
		dumpTokens      = flag.Bool("dump-tokens", false, "Dump tokens after preprocessing and exit")
		dumpLabels      = flag.Bool("dump-labels", false, "Dump the symbol table after assembly")
		dumpPatches     = flag.Bool("dump-patches", false, "Dump outstanding backpatch records after assembly")
		dumpStringtable = flag.Bool("dump-stringtable", false, "Dump the compressed string table")
		dumpDebug       = flag.Bool("dump-debug", false, "Dump an instruction-by-instruction emission trace")

		inspectMode = flag.Bool("inspect", false, "Open the assembled output in the interactive inspector")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("glulxasm %s\n", Version)
		if Commit != "unknown" {
			fmt.Printf("Commit: %s\n", Commit)
		}
		if Date != "unknown" {
			fmt.Printf("Built: %s\n", Date)
		}
		os.Exit(0)
	}
	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if *apiServer {
		runAPIServer(cfg, *apiPort)
		return
	}

	if flag.NArg() == 0 {
		printHelp()
		os.Exit(0)
	}
	inFile := flag.Arg(0)

	effectiveOut := *outFile
	if effectiveOut == "" {
		effectiveOut = cfg.Assemble.OutputFile
	}
	if flag.NArg() > 1 {
		effectiveOut = flag.Arg(1)
	}

	effectiveStack := uint32(*stackSize)
	if effectiveStack == 0 {
		effectiveStack = uint32(cfg.Assemble.StackSize)
	}

	var startOverride *uint32
	if *startAddress != "" {
		v, err := parseNumber(*startAddress)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid -start value %q: %v\n", *startAddress, err)
			os.Exit(1)
		}
		startOverride = &v
	}

	opts := assembleOptions{
		dumpPretokens:   *dumpPretokens,
		dumpTokens:      *dumpTokens,
		dumpLabels:      *dumpLabels,
		dumpPatches:     *dumpPatches,
		dumpStringtable: *dumpStringtable,
		dumpDebug:       *dumpDebug,
		emitTimestamp:   cfg.Assemble.EmitTimestamp && !*noTime,
	}

	result, err := runAssemble(inFile, effectiveOut, startOverride, effectiveStack, opts)
	if err != nil {
		if cfg.Assemble.RemoveOnFailure {
			os.Remove(effectiveOut) // #nosec G104 -- best-effort cleanup of a partial output file
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *inspectMode {
		tui := inspect.NewTUI(result.symbols, result.state)
		if err := tui.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error running inspector: %v\n", err)
			os.Exit(1)
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFrom(path)
}

func runAPIServer(cfg *config.Config, portFlag int) {
	port := portFlag
	if port == 0 {
		port = cfg.Server.Port
	}
	server := assembleapi.NewServer(assembleapi.Options{
		Port:           port,
		AllowCORS:      cfg.Server.AllowCORS,
		MaxRequestSize: cfg.Server.MaxRequestSize,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var shutdownOnce sync.Once
	performShutdown := func() {
		shutdownOnce.Do(func() {
			fmt.Println("\nShutting down assembly server...")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("Assembly server stopped")
			os.Exit(0)
		})
	}

	go func() {
		if err := server.Start(); err != nil && err.Error() != "http: Server closed" {
			fmt.Fprintf(os.Stderr, "Assembly server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-sigChan
	performShutdown()
}

// assembleOptions selects which diagnostic dumps to print during
// runAssemble.
type assembleOptions struct {
	dumpPretokens   bool
	dumpTokens      bool
	dumpLabels      bool
	dumpPatches     bool
	dumpStringtable bool
	dumpDebug       bool
	emitTimestamp   bool
}

type assembleResult struct {
	symbols *parser.SymbolTable
	state   *emitter.State
}

// runAssemble drives the whole pipeline for one input file: lex,
// preprocess, build the string table, emit, finalize, and write the
// output — pausing to print whichever -dump-* flags were requested
// along the way.
func runAssemble(inFile, outFile string, startOverride *uint32, stackSize uint32, opts assembleOptions) (*assembleResult, error) {
	src, err := os.ReadFile(inFile) // #nosec G304 -- path is a user-supplied command-line argument
	if err != nil {
		return nil, fmt.Errorf("cannot read %q: %w", inFile, err)
	}

	errs := &parser.ErrorList{}
	filename := filepath.Base(inFile)
	lx := parser.NewLexer(filename, src, errs)
	tokens := lx.Lex()

	if opts.dumpPretokens {
		dumpTokenList(os.Stdout, tokens)
	}

	tbl := stringtable.New()
	pp := parser.NewPreprocessor(filepath.Dir(inFile), tbl, errs)
	pp.Process(tokens, filename)

	if opts.dumpTokens {
		dumpTokenList(os.Stdout, tokens)
	}

	if errs.HasErrors() {
		return nil, fmt.Errorf("preprocessing failed:\n%s", errs.Error())
	}

	tbl.Build()

	symbols := parser.NewSymbolTable()
	state := emitter.NewState(symbols, tbl, errs)
	state.BaseDir = filepath.Dir(inFile)
	if opts.dumpDebug {
		state.Debug = os.Stderr
	}

	emitter.Emit(tokens, state)

	if opts.dumpLabels {
		dumpLabelsTable(os.Stdout, symbols)
	}
	if opts.dumpPatches {
		dumpPatchesTable(os.Stdout, state.Patches)
	}

	var timestamp uint32
	if opts.emitTimestamp {
		timestamp = uint32(time.Now().Unix())
	}
	emitter.Finalize(state, startOverride, stackSize, timestamp)

	if opts.dumpStringtable {
		fmt.Println(tbl.DumpFrequencies())
	}

	if errs.HasErrors() {
		return nil, fmt.Errorf("assembly failed:\n%s", errs.Error())
	}
	if warnings := errs.PrintWarnings(); warnings != "" {
		fmt.Fprint(os.Stderr, warnings)
	}

	if err := state.Buf.WriteFile(outFile); err != nil {
		return nil, fmt.Errorf("cannot write %q: %w", outFile, err)
	}

	ratio := 0.0
	if tbl.InputBytes() > 0 {
		ratio = float64(tbl.Size()) / float64(tbl.InputBytes())
	}
	fmt.Printf("%s: %d bytes (strings: %d -> %d bytes, %.1f%%)\n",
		outFile, state.Buf.Len(), tbl.InputBytes(), tbl.Size(), ratio*100)

	return &assembleResult{symbols: symbols, state: state}, nil
}

func dumpTokenList(w *os.File, tokens *parser.TokenList) {
	for _, t := range tokens.Slice() {
		fmt.Fprintf(w, "%s: %s\n", t.Pos, t)
	}
}

func dumpLabelsTable(w *os.File, symbols *parser.SymbolTable) {
	fmt.Fprintln(w, "SYMBOL TABLE")
	for _, sym := range symbols.All() {
		status := "defined"
		if !sym.Defined {
			status = "UNDEFINED"
		}
		fmt.Fprintf(w, "  %-24s %-10s value=%d (%#x) refs=%d\n",
			sym.Name, status, sym.Value, uint32(sym.Value), len(sym.References))
	}
}

func dumpPatchesTable(w *os.File, patches []*emitter.Patch) {
	fmt.Fprintln(w, "OUTSTANDING PATCHES")
	for _, p := range patches {
		kind := "absolute"
		if p.RelativeFrom > 0 {
			kind = "relative"
		}
		fmt.Fprintf(w, "  %s: @%d width=%d %s\n", p.Pos, p.BufferPos, p.Width, kind)
	}
}

// parseNumber accepts either a "0x..." hex literal or a plain decimal
// number, the same two forms -start (and the config's start_address
// field) are documented to accept.
func parseNumber(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 32)
		return uint32(v), err
	}
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err
}

func printHelp() {
	fmt.Println(`glulxasm - Glulx virtual machine assembler

Usage:
  glulxasm [options] <input.ga> [output.ulx]
  glulxasm -api-server [-port N]

Options:`)
	flag.PrintDefaults()
}
