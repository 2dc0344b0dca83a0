// Command turtlec drives the compiler pipeline end to end: it reads an
// AST document and a cheats overlay, runs translate -> lower -> stackify
// -> codegen, and writes the resulting Wasm binary module.
package main

import (
	"flag"
	"os"

	"github.com/fieldforge/turtlec/internal/ast"
	"github.com/fieldforge/turtlec/internal/codegen"
	"github.com/fieldforge/turtlec/internal/config"
	"github.com/fieldforge/turtlec/internal/lower"
	"github.com/fieldforge/turtlec/internal/mir"
	"github.com/fieldforge/turtlec/internal/stackify"
	"github.com/fieldforge/turtlec/internal/translate"

	"encoding/json"

	"github.com/fieldforge/turtlec/internal/logx"
)

var log = logx.Named("turtlec")

func main() {
	os.Exit(run())
}

func run() int {
	astPath := flag.String("ast", "", "path to the source AST JSON document (required)")
	cheatsPath := flag.String("cheats", "", "path to the cheats overlay JSON document (required)")
	outPath := flag.String("out", "out.wasm", "path to write the compiled Wasm module to")
	tableStart := flag.Uint("table-start", 0, "first indirect-function-table slot to allocate entrypoints from")
	flag.Parse()

	if *astPath == "" || *cheatsPath == "" {
		log.Error("missing required flag", logx.String("ast", *astPath), logx.String("cheats", *cheatsPath))
		flag.Usage()
		return 2
	}

	a, err := loadAst(*astPath)
	if err != nil {
		log.Error("failed to load AST", logx.Err(err))
		return 1
	}

	cheats, err := loadCheats(*cheatsPath)
	if err != nil {
		log.Error("failed to load cheats overlay", logx.Err(err))
		return 1
	}

	mirProg, err := translate.Translate(a)
	if err != nil {
		log.Error("translate failed", logx.Err(err))
		return 1
	}
	if err := translate.ApplyCheats(mirProg, cheats); err != nil {
		log.Error("applying cheats failed", logx.Err(err))
		return 1
	}
	log.Info("translated", logx.Int("functions", len(mirProg.Functions)))

	for _, fn := range mirProg.Functions {
		if err := mirProg.RunPeephole(fn, mir.DefaultRewriteBudget); err != nil {
			log.Error("peephole rewrite failed", logx.Err(err), logx.String("fn", fn.Name))
			return 1
		}
	}
	log.Info("peepholed", logx.Int("functions", len(mirProg.Functions)))

	lirProg, err := lower.Lower(mirProg)
	if err != nil {
		log.Error("lowering failed", logx.Err(err))
		return 1
	}
	log.Info("lowered", logx.Int("functions", len(lirProg.Functions)), logx.Int("imports", len(lirProg.Imports)))

	plan, err := stackify.Stackify(lirProg)
	if err != nil {
		log.Error("stackify failed", logx.Err(err))
		return 1
	}

	result, err := codegen.Emit(lirProg, plan, codegen.Options{
		Table: codegen.NewSequentialTableAllocator(uint32(*tableStart)),
	})
	if err != nil {
		log.Error("codegen failed", logx.Err(err))
		return 1
	}
	log.Info("emitted module", logx.Int("bytes", len(result.Bytes)), logx.Int("table-entries", len(result.TableSlots)))

	if err := os.WriteFile(*outPath, result.Bytes, 0o644); err != nil {
		log.Error("failed to write output", logx.Err(err))
		return 1
	}
	log.Info("wrote module", logx.String("path", *outPath))
	return 0
}

func loadAst(path string) (*ast.Ast, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var a ast.Ast
	if err := json.NewDecoder(f).Decode(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

func loadCheats(path string) (*config.Cheats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return config.Load(f)
}
