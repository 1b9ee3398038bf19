package main

import (
	"flag"
	"os"
	"strconv"
	"strings"
)

// config is the launch-glue configuration surface (spec.md §6,
// summarised): bind ports, advertised address, the alternate
// WebSocket-WC toggle, the controller allow-list, and log level.
//
// Flags are seeded from environment variables (so CSSPROXY_WS_PORT
// etc. can set a default a flag overrides) loaded from an optional
// .env file first.
type config struct {
	wsPort            int
	wcPort            int
	advertiseAddr     string
	useWebSocketWC    bool
	proxyListenOn     []string
	proxyListenOnFile string
	logLevel          string
}

type stringSliceFlag struct{ values []string }

func (s *stringSliceFlag) String() string { return strings.Join(s.values, ",") }
func (s *stringSliceFlag) Set(v string) error {
	s.values = append(s.values, v)
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func parseConfig(args []string) *config {
	fs := flag.NewFlagSet("cssproxy", flag.ExitOnError)

	wsPort := fs.Int("ws-port", getEnvInt("CSSPROXY_WS_PORT", 7681), "port for CII/TS/controller WebSocket endpoints")
	wcPort := fs.Int("wc-port", getEnvInt("CSSPROXY_WC_PORT", 6677), "UDP port for the wall-clock server")
	advertiseAddr := fs.String("advertise-addr", getEnv("CSSPROXY_ADVERTISE_ADDR", ""), "host advertised in CII's tsUrl/wcUrl; left empty, each CSA is told the host it actually connected through")
	useWS := fs.Bool("ws", getEnv("CSSPROXY_WC_WS", "") == "1", "serve the alternate WebSocket wall clock instead of UDP")
	logLevel := fs.String("loglevel", getEnv("CSSPROXY_LOGLEVEL", "info"), "debug, info, warn, or error")
	listenOnFile := fs.String("proxy-listen-on-file", getEnv("CSSPROXY_LISTEN_ON_FILE", ""), "file of newline-separated controller allow-list addresses, hot-reloaded")

	var listenOn stringSliceFlag
	fs.Var(&listenOn, "proxy-listen-on", "controller allow-list address (repeatable); default 127.0.0.1")

	fs.Parse(args)

	addrs := listenOn.values
	if len(addrs) == 0 {
		if env := os.Getenv("CSSPROXY_LISTEN_ON"); env != "" {
			addrs = strings.Split(env, ",")
		} else {
			addrs = []string{"127.0.0.1"}
		}
	}

	return &config{
		wsPort:            *wsPort,
		wcPort:            *wcPort,
		advertiseAddr:     *advertiseAddr,
		useWebSocketWC:    *useWS,
		proxyListenOn:     addrs,
		proxyListenOnFile: *listenOnFile,
		logLevel:          *logLevel,
	}
}
