// Package main is the entry point for the wsmitm proxy: an intercepting
// WebSocket relay that reassembles, exposes, and optionally rewrites messages
// between clients and a configured upstream.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/wsmitm/internal/api"
	"github.com/router-for-me/wsmitm/internal/buildinfo"
	"github.com/router-for-me/wsmitm/internal/config"
	"github.com/router-for-me/wsmitm/internal/logging"
	"github.com/router-for-me/wsmitm/internal/proxy"
	"github.com/router-for-me/wsmitm/internal/rewrite"
	"github.com/router-for-me/wsmitm/internal/watcher"
	"github.com/router-for-me/wsmitm/internal/wsrelay"
)

func init() {
	logging.Setup()
}

func main() {
	fmt.Printf("wsmitm Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to the configuration file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logging.SetLevel(cfg.LogLevel)
	if err = logging.EnableFileOutput(cfg.LogFile); err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}

	flows := proxy.NewRegistry(cfg.FlowRetention)
	rewriter := rewrite.New(cfg.Rewrite)
	hooks := sessionHooks(rewriter)

	server, err := proxy.New(cfg, flows, hooks)
	if err != nil {
		log.Fatalf("Failed to build proxy: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := watcher.New(configPath, func(next *config.Config) {
		logging.SetLevel(next.LogLevel)
		rewriter.Swap(next.Rewrite)
	})
	if err != nil {
		log.Fatalf("Failed to create config watcher: %v", err)
	}
	if err = w.Start(ctx); err != nil {
		log.Fatalf("Failed to start config watcher: %v", err)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- server.ListenAndServe() }()

	var apiSrv *api.Server
	if cfg.APIListen != "" {
		apiSrv = api.New(cfg.APIListen, flows)
		go func() { errCh <- apiSrv.ListenAndServe() }()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infof("Received %s, shutting down.", sig)
	case err = <-errCh:
		if err != nil {
			log.Errorf("Server error: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	if apiSrv != nil {
		_ = apiSrv.Shutdown(shutdownCtx)
	}
}

// sessionHooks wires the relay's interception points: structured session
// logging plus the configured rewrite rules on every completed message.
func sessionHooks(rewriter *rewrite.Rewriter) wsrelay.Hooks {
	return wsrelay.Hooks{
		Start: func(f *wsrelay.Flow) {
			log.WithFields(log.Fields{"flow_id": f.ID, "target": f.Target}).Info("WebSocket session started")
		},
		Message: func(f *wsrelay.Flow) {
			rewriter.OnMessage(f)
			if msg := f.LastMessage(); msg != nil {
				log.WithFields(log.Fields{
					"flow_id": f.ID,
					"origin":  originName(msg.FromClient),
					"kind":    msg.Kind.String(),
					"size":    len(msg.Content),
				}).Debug("WebSocket message")
			}
		},
		End: func(f *wsrelay.Flow) {
			log.WithFields(log.Fields{"flow_id": f.ID, "code": f.CloseCode}).Info("WebSocket session ended")
		},
		Error: func(f *wsrelay.Flow) {
			log.WithFields(log.Fields{"flow_id": f.ID, "error": f.Err}).Warn("WebSocket session failed")
		},
	}
}

func originName(fromClient bool) string {
	if fromClient {
		return "client"
	}
	return "server"
}
