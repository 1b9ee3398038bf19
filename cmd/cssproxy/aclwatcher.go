package main

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bbc-rd/css-proxy/internal/cssproxy"
	"github.com/fsnotify/fsnotify"
)

// watchAllowListFile re-reads path into allowList whenever it changes
// on disk, swapping the in-memory list atomically. It blocks until ctx
// is cancelled, matching the other errgroup members in main.go. This
// is a supplement to spec.md's static allow-list (SPEC_FULL.md §4.3):
// a real operational deployment needs to update the allow-list without
// restarting the proxy.
func watchAllowListFile(ctx context.Context, path string, allowList *cssproxy.AllowList, log *slog.Logger) error {
	if err := reloadAllowListFile(path, allowList, log); err != nil {
		log.Warn("acl: initial load failed, keeping previous allow-list", "path", path, "error", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := reloadAllowListFile(path, allowList, log); err != nil {
				log.Warn("acl: reload failed, keeping previous allow-list", "path", path, "error", err)
				continue
			}
			log.Info("acl: allow-list reloaded", "path", path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("acl: watch error", "error", err)
		}
	}
}

func reloadAllowListFile(path string, allowList *cssproxy.AllowList, log *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var addrs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addrs = append(addrs, line)
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	allowList.Replace(addrs)
	return nil
}
