package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/samber/do"

	"github.com/kova-lang/kova/internal/compiler"
	"github.com/kova-lang/kova/internal/config"
	"github.com/kova-lang/kova/internal/dispatch"
	"github.com/kova-lang/kova/internal/trace"
	"github.com/kova-lang/kova/internal/typesystem"
)

func main() {
	optionsPath := flag.String("options", "", "YAML options file")
	dump := flag.Bool("dump", false, "dump resolver state after each scenario")
	stats := flag.Bool("stats", false, "print cache statistics after each scenario")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: kova [flags] scenario%s...\n", config.ScenarioFileExt)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	for _, path := range flag.Args() {
		if !strings.HasSuffix(path, config.ScenarioFileExt) {
			fmt.Fprintf(os.Stderr, "kova: %s: not a %s file\n", path, config.ScenarioFileExt)
			os.Exit(2)
		}
	}

	injector := do.New()
	do.Provide(injector, func(i *do.Injector) (*config.Options, error) {
		return config.LoadOptions(*optionsPath)
	})
	do.Provide(injector, func(i *do.Injector) (trace.Sink, error) {
		opts := do.MustInvoke[*config.Options](i)
		return trace.BuildSinks(opts.TraceDispatch, opts.TraceSpecialize, opts.TraceDB, opts.Color)
	})
	do.Provide(injector, func(i *do.Injector) (*typesystem.Interner, error) {
		return typesystem.NewInterner(), nil
	})
	do.Provide(injector, func(i *do.Injector) (typesystem.Oracle, error) {
		return typesystem.NewNominalOracle(do.MustInvoke[*typesystem.Interner](i)), nil
	})
	do.Provide(injector, func(i *do.Injector) (*compiler.Compiler, error) {
		return compiler.New(do.MustInvoke[*config.Options](i), do.MustInvoke[trace.Sink](i)), nil
	})
	do.Provide(injector, func(i *do.Injector) (*dispatch.Table, error) {
		t := dispatch.NewTable(
			do.MustInvoke[*typesystem.Interner](i),
			do.MustInvoke[typesystem.Oracle](i),
			do.MustInvoke[*config.Options](i),
			do.MustInvoke[trace.Sink](i),
		)
		t.Backend = do.MustInvoke[*compiler.Compiler](i)
		return t, nil
	})

	code := 0
	for _, path := range flag.Args() {
		if err := runScenario(injector, path, *dump, *stats); err != nil {
			fmt.Fprintf(os.Stderr, "kova: %s: %v\n", path, err)
			code = 1
		}
	}
	if sink, err := do.Invoke[trace.Sink](injector); err == nil {
		sink.Close()
	}
	os.Exit(code)
}

func runScenario(injector *do.Injector, path string, dump, stats bool) error {
	sc, err := LoadScenario(path)
	if err != nil {
		return err
	}
	table := do.MustInvoke[*dispatch.Table](injector)
	r, err := newRunner(
		do.MustInvoke[*typesystem.Interner](injector),
		table,
		do.MustInvoke[*compiler.Compiler](injector),
		os.Stdout,
	)
	if err != nil {
		return err
	}
	fmt.Printf("== %s\n", sc.Name)
	if err := r.Run(sc); err != nil {
		return err
	}
	if stats {
		r.printStats()
	}
	if dump {
		hits, misses := table.CallCacheStats()
		spew.Fdump(os.Stderr, struct {
			World           uint64
			CallCacheHits   uint64
			CallCacheMisses uint64
			TrackedMisses   int
		}{table.World.Current(), hits, misses, table.MissingBackedgeCount()})
	}
	return nil
}
