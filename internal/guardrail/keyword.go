package guardrail

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// KeywordConfig is the JSON configuration for the keyword moderator
type KeywordConfig struct {
	// BlockedKeywords reject the whole text when matched
	BlockedKeywords []string `json:"blockedKeywords"`
	// RedactedKeywords are masked in place instead of blocking
	RedactedKeywords []string `json:"redactedKeywords"`
	CaseSensitive    bool     `json:"caseSensitive"`
}

// DefaultKeywordConfig returns an empty, allow-everything config
func DefaultKeywordConfig() KeywordConfig {
	return KeywordConfig{
		BlockedKeywords:  []string{},
		RedactedKeywords: []string{},
	}
}

const redactionMask = "[redacted]"

// KeywordModerator is a Moderator driven by a keyword list loaded from a
// JSON file and hot-reloaded on change.
type KeywordModerator struct {
	mu         sync.RWMutex
	config     KeywordConfig
	configFile string
	watcher    *fsnotify.Watcher
}

// NewKeywordModerator loads the config file and starts watching it. A
// missing file is replaced with saved defaults.
func NewKeywordModerator(configFile string) (*KeywordModerator, error) {
	m := &KeywordModerator{configFile: configFile}

	if err := m.loadConfig(); err != nil {
		log.Printf("⚠️ Guardrail config not found, using defaults: %v", err)
		m.config = DefaultKeywordConfig()
		if err := m.saveConfig(); err != nil {
			log.Printf("⚠️ Failed to save default guardrail config: %v", err)
		}
	}

	if err := m.startWatcher(); err != nil {
		log.Printf("⚠️ Failed to start guardrail config watcher: %v", err)
	}

	return m, nil
}

// Moderate checks the text against the blocked and redacted keyword lists
func (m *KeywordModerator) Moderate(_ context.Context, text string, direction Direction) (Decision, error) {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	haystack := text
	if !cfg.CaseSensitive {
		haystack = strings.ToLower(text)
	}

	for _, kw := range cfg.BlockedKeywords {
		needle := kw
		if !cfg.CaseSensitive {
			needle = strings.ToLower(kw)
		}
		if needle != "" && strings.Contains(haystack, needle) {
			return Decision{
				Blocked: true,
				Reason:  fmt.Sprintf("%s content matched a blocked term", direction),
			}, nil
		}
	}

	redacted := text
	for _, kw := range cfg.RedactedKeywords {
		if kw == "" {
			continue
		}
		if cfg.CaseSensitive {
			redacted = strings.ReplaceAll(redacted, kw, redactionMask)
		} else {
			redacted = replaceFold(redacted, kw, redactionMask)
		}
	}
	if redacted != text {
		return Decision{Redacted: redacted}, nil
	}

	return Decision{}, nil
}

// replaceFold replaces every case-insensitive occurrence of old with new
func replaceFold(s, old, new string) string {
	if old == "" {
		return s
	}
	lower := strings.ToLower(s)
	oldLower := strings.ToLower(old)

	var b strings.Builder
	for {
		i := strings.Index(lower, oldLower)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		b.WriteString(new)
		s = s[i+len(old):]
		lower = lower[i+len(oldLower):]
	}
}

func (m *KeywordModerator) loadConfig() error {
	data, err := os.ReadFile(m.configFile)
	if err != nil {
		return err
	}

	var cfg KeywordConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return err
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()

	log.Printf("✅ Guardrail config loaded: %d blocked, %d redacted terms",
		len(cfg.BlockedKeywords), len(cfg.RedactedKeywords))
	return nil
}

func (m *KeywordModerator) saveConfig() error {
	dir := filepath.Dir(m.configFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.configFile, data, 0644)
}

func (m *KeywordModerator) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = watcher

	configBase := filepath.Base(m.configFile)

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != configBase {
					continue
				}
				// Editors often replace files via rename/create, not only Write.
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					log.Printf("📝 Guardrail config updated, reloading...")
					if err := m.loadConfig(); err != nil {
						log.Printf("⚠️ Failed to reload guardrail config: %v", err)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️ Guardrail config watcher error: %v", err)
			}
		}
	}()

	dir := filepath.Dir(m.configFile)
	if err := watcher.Add(dir); err != nil {
		return watcher.Add(m.configFile)
	}
	return nil
}

// Close stops the config watcher
func (m *KeywordModerator) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
