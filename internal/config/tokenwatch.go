package config

import (
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// TokenWatcher serves a live-reloadable hallucination-token list, backed
// by an operator-edited file when HALLUCINATION_TOKENS_FILE is set.
type TokenWatcher struct {
	tokens  atomic.Pointer[[]string]
	watcher *fsnotify.Watcher
}

// NewTokenWatcher seeds from fallback, then swaps in path's contents
// (one token per line) if path is non-empty and readable, watching path
// for subsequent edits. A missing or unwatchable path is not fatal: the
// watcher just keeps serving fallback.
func NewTokenWatcher(path string, fallback []string) *TokenWatcher {
	tw := &TokenWatcher{}
	tw.tokens.Store(&fallback)
	if path == "" {
		return tw
	}

	tw.reload(path, fallback)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("hallucination token watcher disabled", "error", err)
		return tw
	}
	if err := w.Add(path); err != nil {
		slog.Warn("hallucination token watcher could not watch file", "path", path, "error", err)
		_ = w.Close()
		return tw
	}
	tw.watcher = w

	go tw.watchLoop(path, fallback)
	return tw
}

func (tw *TokenWatcher) watchLoop(path string, fallback []string) {
	for event := range tw.watcher.Events {
		if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
			tw.reload(path, fallback)
		}
	}
}

func (tw *TokenWatcher) reload(path string, fallback []string) {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("hallucination token file unreadable, keeping previous list", "path", path, "error", err)
		return
	}
	lines := strings.Split(string(data), "\n")
	tokens := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			tokens = append(tokens, trimmed)
		}
	}
	if len(tokens) == 0 {
		tokens = fallback
	}
	tw.tokens.Store(&tokens)
	slog.Info("hallucination token list reloaded", "path", path, "count", len(tokens))
}

// Tokens returns the current list, safe for concurrent use.
func (tw *TokenWatcher) Tokens() []string {
	return *tw.tokens.Load()
}

// Close stops the underlying file watcher, if one was started.
func (tw *TokenWatcher) Close() error {
	if tw.watcher == nil {
		return nil
	}
	return tw.watcher.Close()
}
