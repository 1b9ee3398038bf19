// Command cssproxy runs the DVB CSS protocol proxy: a standalone TV
// stand-in that companion screens connect to over CSS-CII, CSS-TS, and
// CSS-WC, while an upstream controller supplies the authoritative
// content and timing state over a JSON WebSocket channel.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/bbc-rd/css-proxy/internal/cssproxy"
	"github.com/bbc-rd/css-proxy/internal/dvbcss/cii"
	"github.com/bbc-rd/css-proxy/internal/dvbcss/ts"
	"github.com/bbc-rd/css-proxy/internal/dvbcss/wc"
	"github.com/bbc-rd/css-proxy/kit/colorlog"
	"github.com/bbc-rd/css-proxy/kit/grace"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "cssproxy: no .env file loaded: %v\n", err)
	}

	cfg := parseConfig(os.Args[1:])
	logOpts := colorlog.Options{Level: parseLogLevel(cfg.logLevel)}
	log := colorlog.New("cssproxy", logOpts)
	log.Info("starting", "loglevel", cfg.logLevel)

	rewriteHostOnConnect := cfg.advertiseAddr == ""
	host := cfg.advertiseAddr
	if rewriteHostOnConnect {
		host = "{{host}}"
	}
	ciiUrl := fmt.Sprintf("ws://%s:%d/cii", host, cfg.wsPort)
	tsUrl := fmt.Sprintf("ws://%s:%d/ts", host, cfg.wsPort)
	var wcUrl string
	if cfg.useWebSocketWC {
		wcUrl = fmt.Sprintf("ws://%s:%d/wcws", host, cfg.wsPort)
	} else {
		wcUrl = fmt.Sprintf("udp://%s:%d", host, cfg.wcPort)
	}

	log.Info("advertising endpoints", "ciiUrl", ciiUrl, "tsUrl", tsUrl, "wcUrl", wcUrl)

	allowList := cssproxy.NewAllowList(cfg.proxyListenOn)
	log.Info("controller allow-list", "addrs", strings.Join(cfg.proxyListenOn, ","))

	ciiServer := cii.NewBlockableServer(colorlog.New("cii", logOpts), rewriteHostOnConnect)
	tsServer := ts.NewServer(colorlog.New("ts", logOpts))
	engine := cssproxy.NewProxyEngine(ciiServer, tsServer, allowList, ciiUrl, tsUrl, wcUrl, log)

	mux := http.NewServeMux()
	mux.Handle("/cii", ciiServer)
	mux.Handle("/ts", tsServer)
	mux.Handle("/server", engine.Controller())

	var wcWebSocket *wc.WebSocketServer
	var wcUDP *wc.UDPServer
	clock := wc.SysClock{}
	if cfg.useWebSocketWC {
		wcWebSocket = wc.NewWebSocketServer(clock, 0.001, 1, colorlog.New("wc", logOpts))
		mux.Handle("/wcws", wcWebSocket)
	} else {
		wcUDP = wc.NewUDPServer(clock, colorlog.New("wc", logOpts))
	}

	httpServer := &http.Server{
		Addr:    "0.0.0.0:" + strconv.Itoa(cfg.wsPort),
		Handler: mux,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if wcUDP != nil {
		g.Go(func() error {
			addr := "0.0.0.0:" + strconv.Itoa(cfg.wcPort)
			log.Info("wc udp listening", "addr", addr)
			return wcUDP.Start(addr)
		})
	}

	if cfg.proxyListenOnFile != "" {
		g.Go(func() error {
			return watchAllowListFile(gctx, cfg.proxyListenOnFile, allowList, colorlog.New("acl", logOpts))
		})
	}

	exitCode := 0
	grace.Orchestrate(grace.OrchestrateOptions{
		Logger: log,
		StartupCallback: func() error {
			// gctx ends when an errgroup member fails or when
			// ShutdownCallback cancels ctx on a signal.
			<-gctx.Done()
			if ctx.Err() != nil {
				return nil
			}
			err := context.Cause(gctx)
			log.Error("fatal error, shutting down", "error", err)
			exitCode = 1
			return err
		},
		ShutdownCallback: func(shutdownCtx context.Context) error {
			cancel()
			if wcUDP != nil {
				wcUDP.Stop()
			}
			return httpServer.Shutdown(shutdownCtx)
		},
	})

	os.Exit(exitCode)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
