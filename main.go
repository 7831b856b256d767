package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"slotdb/pkg/config"
	"slotdb/pkg/db"
	"slotdb/pkg/dberr"
	"slotdb/pkg/logger"
)

func main() {
	configPath := flag.String("config", "slotdb.yaml", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "slotdb: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer log.Sync()

	var reg prometheus.Registerer
	if cfg.Metrics.Enabled {
		r := prometheus.NewRegistry()
		reg = r
		go serveMetrics(cfg.Metrics.ListenAddr, r, log)
	}

	engine, err := db.Open(cfg, log, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Error("engine close failed", zap.Error(err))
		}
	}()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "slotdb> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Fprintf(rl.Stdout(), "slotdb shell on %s, type 'help' for commands.\n", cfg.Storage.DataFile)
	parser := db.NewCommandParser(engine, rl.Stdout())
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		cmd := strings.TrimSpace(line)
		if cmd == "" {
			continue
		}
		if strings.EqualFold(cmd, "quit") || strings.EqualFold(cmd, "exit") {
			return nil
		}

		start := time.Now()
		err = parser.ParseAndExecute(cmd)
		duration := time.Since(start)
		if err != nil {
			fmt.Fprintf(rl.Stdout(), "Error: %v\n", err)
			if dberr.IsFatal(err) {
				log.Error("fatal storage error, stopping shell", zap.Error(err))
				return err
			}
			continue
		}
		fmt.Fprintf(rl.Stdout(), "(%.4f sec)\n", duration.Seconds())
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Info("serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server failed", zap.Error(err))
	}
}
