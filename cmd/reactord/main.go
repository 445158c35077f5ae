// Copyright 2023 Kami
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command reactord is a minimal launcher wiring a TcpServer, its
// worker loop pool, the async logging engine, and config hot-reload
// together. It has no CLI framework dependency, matching the
// teacher's own preference for small, dependency-free main packages.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/govoltron/reactor/config"
	"github.com/govoltron/reactor/dbpool/mysql"
	"github.com/govoltron/reactor/logger"
	"github.com/govoltron/reactor/net"
	"github.com/govoltron/reactor/reactor"
)

func main() {
	configPath := flag.String("config", "reactord.toml", "path to the TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reactord: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "reactord: create log dir: %v\n", err)
		os.Exit(1)
	}
	logFile, err := logger.NewLogFile(filepath.Join(cfg.LogDir, "reactord"), cfg.RollSizeBytes(), cfg.FlushInterval(), 1024, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reactord: open log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()

	asyncLog := logger.NewAsyncLog(logFile)
	asyncLog.Start()
	defer asyncLog.Stop()

	domainLog := logger.NewLogger(asyncLog, logger.ParseLevel(cfg.LogLevel))

	opLevel := zap.NewAtomicLevel()
	opLevel.UnmarshalText([]byte(cfg.LogLevel))
	opLog := logger.NewOperationalLogger(filepath.Join(cfg.LogDir, "reactord-operational.log"), cfg.LogRollSizeMB, 5, 28, true, opLevel)
	defer opLog.Sync()

	watcher, err := config.NewWatcher(*configPath)
	if err != nil {
		opLog.Warn("config hot-reload disabled", zap.Error(err))
	} else {
		watcher.OnChange = func(next config.Config) {
			domainLog.SetLevel(logger.ParseLevel(next.LogLevel))
			opLevel.UnmarshalText([]byte(next.LogLevel))
			opLog.Info("config reloaded", zap.String("log_level", next.LogLevel))
		}
		watcher.OnError = func(err error) {
			opLog.Error("config watch error", zap.Error(err))
		}
		watcher.Start()
		defer watcher.Close()
	}

	var dbPool *mysql.Pool
	if cfg.DBDSN != "" {
		dbPool, err = mysql.Open(mysql.Config{
			DSN:         cfg.DBDSN,
			MinSize:     cfg.DBMinSize,
			MaxSize:     cfg.DBMaxSize,
			MaxIdleTime: time.Duration(cfg.DBMaxIdleSeconds) * time.Second,
		})
		if err != nil {
			opLog.Fatal("open db pool", zap.Error(err))
		}
		defer dbPool.Close()
		opLog.Info("db pool ready", zap.Int("min_size", cfg.DBMinSize), zap.Int("max_size", cfg.DBMaxSize))
	}

	baseLoop, err := reactor.New(opLog)
	if err != nil {
		opLog.Fatal("create base loop", zap.Error(err))
	}

	srv, err := net.NewTcpServer(baseLoop, "reactord", cfg.Addr, cfg.ReusePort, opLog)
	if err != nil {
		opLog.Fatal("create tcp server", zap.Error(err))
	}
	srv.Config.ConnArena = cfg.ConnArena
	srv.ConnectionCallback = func(c *net.TcpConnection) {
		if c.Connected() {
			domainLog.Infof("reactord", 0, "connection established: %s <- %s", c.Name(), c.PeerAddr())
		}
	}

	if err := srv.Start(cfg.Workers); err != nil {
		opLog.Fatal("start tcp server", zap.Error(err))
	}
	opLog.Info("reactord listening", zap.String("addr", cfg.Addr), zap.Int("workers", cfg.Workers))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go baseLoop.Loop()
	<-ctx.Done()

	opLog.Info("reactord shutting down")
	srv.Stop()
	baseLoop.Quit()
	baseLoop.Wait()
	baseLoop.Close()
}
