// Command repair runs the provenance repair pipeline from the shell:
//
//	repair run    [-commit]          scan orphans, score, and optionally commit
//	repair verify -run <id> | -pairs <csv>
//	repair undo   -run <id> | -pairs <csv>
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/agenthands/loom/internal/config"
	"github.com/agenthands/loom/internal/core"
	"github.com/agenthands/loom/internal/core/model"
	"github.com/agenthands/loom/internal/core/weave"
	"github.com/agenthands/loom/internal/driver"
	"github.com/agenthands/loom/internal/llm"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := godotenv.Load(); err != nil {
		log.Info("no .env file found, using environment as-is")
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	engine := buildEngine(log)
	defer engine.Close(context.Background())

	switch cmd {
	case "run":
		runCmd(engine, log, args)
	case "verify":
		verifyCmd(engine, log, args)
	case "undo":
		undoCmd(engine, log, args)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: repair <run|verify|undo> [flags]")
}

func buildEngine(log *zap.Logger) *core.Engine {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.toml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Warn("config file not loadable, using defaults", zap.String("path", cfgPath), zap.Error(err))
		cfg = config.Default()
	}

	d, err := driver.NewBoltDriver(cfg.Graph.URI, cfg.Graph.User, cfg.Graph.Password, log)
	if err != nil {
		log.Fatal("failed to connect to graph store", zap.Error(err))
	}

	llmClient, embedder, err := llm.NewClient(context.Background(), cfg.LLM)
	if err != nil {
		log.Fatal("failed to initialize LLM client", zap.Error(err))
	}

	var reranker llm.RerankerClient
	if cfg.Weaver.RerankAmbiguous {
		reranker = llm.NewSimpleLLMReranker(llmClient)
	}

	auditDir := os.Getenv("AUDIT_DIR")
	if auditDir == "" {
		auditDir = "audit"
	}
	return core.NewEngine(d, llmClient, embedder, reranker, log, cfg, auditDir)
}

func runCmd(engine *core.Engine, log *zap.Logger, args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	commit := fs.Bool("commit", false, "write accepted links instead of dry-running")
	fs.Parse(args)

	mode := model.ModeDryRun
	if *commit {
		mode = model.ModeCommit
	}

	summary, _, err := engine.RunRepair(context.Background(), mode)
	if err != nil {
		log.Fatal("repair run failed", zap.Error(err), zap.Any("partial", summary))
	}
	fmt.Printf("run %s: scanned=%d candidates=%d committed=%d rejected=%d failed=%d\n",
		summary.RunID, summary.Scanned, summary.Candidates, summary.Committed, summary.Rejected, summary.Failed)
}

func verifyCmd(engine *core.Engine, log *zap.Logger, args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	runID := fs.String("run", "", "run id to verify")
	pairsPath := fs.String("pairs", "", "audit CSV with committed pairs")
	fs.Parse(args)

	pairs := loadPairs(log, *pairsPath)
	report, err := engine.Verify(context.Background(), *runID, pairs)
	if err != nil {
		log.Fatal("verify failed", zap.Error(err))
	}
	fmt.Printf("checked=%d confirmed=%d missing=%d\n", report.Checked, report.Confirmed, report.Missing)
	for _, p := range report.MissingPairs {
		fmt.Printf("missing: %s -> %s\n", p[0], p[1])
	}
	if report.Missing > 0 {
		os.Exit(1)
	}
}

func undoCmd(engine *core.Engine, log *zap.Logger, args []string) {
	fs := flag.NewFlagSet("undo", flag.ExitOnError)
	runID := fs.String("run", "", "run id to undo")
	pairsPath := fs.String("pairs", "", "audit CSV with committed pairs")
	fs.Parse(args)

	pairs := loadPairs(log, *pairsPath)
	report, err := engine.Undo(context.Background(), *runID, pairs)
	if err != nil {
		log.Fatal("undo failed", zap.Error(err))
	}
	fmt.Printf("matched=%d deleted=%d\n", report.Matched, report.Deleted)
}

func loadPairs(log *zap.Logger, path string) [][2]string {
	if path == "" {
		return nil
	}
	pairs, err := weave.LoadPairsCSV(path)
	if err != nil {
		log.Fatal("loading pairs file failed", zap.String("path", path), zap.Error(err))
	}
	return pairs
}
