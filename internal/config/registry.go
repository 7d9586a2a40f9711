package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/talkie/pkg/provider/llm"
	"github.com/MrWong99/talkie/pkg/provider/s2s"
	"github.com/MrWong99/talkie/pkg/provider/stt"
	"github.com/MrWong99/talkie/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods when entry.Name
// has no factory for that kind.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[P any] func(ProviderEntry) (P, error)

// factories is one kind's name → constructor table.
type factories[P any] map[string]Factory[P]

func (f factories[P]) build(kind string, entry ProviderEntry) (P, error) {
	build, ok := f[entry.Name]
	if !ok {
		var zero P
		known := strings.Join(slices.Sorted(maps.Keys(f)), ", ")
		return zero, fmt.Errorf("%w: %s %q (known: %s)", ErrProviderNotRegistered, kind, entry.Name, known)
	}
	p, err := build(entry)
	if err != nil {
		var zero P
		return zero, fmt.Errorf("config: create %s %q: %w", kind, entry.Name, err)
	}
	return p, nil
}

// Registry resolves [ProviderEntry] names to constructors, one table per
// provider kind. Registering a name twice replaces the first factory. It is
// safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	stt factories[stt.Provider]
	llm factories[llm.Provider]
	tts factories[tts.Provider]
	s2s factories[s2s.Provider]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt: factories[stt.Provider]{},
		llm: factories[llm.Provider]{},
		tts: factories[tts.Provider]{},
		s2s: factories[s2s.Provider]{},
	}
}

func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) { r.set(func() { r.stt[name] = f }) }
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) { r.set(func() { r.llm[name] = f }) }
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) { r.set(func() { r.tts[name] = f }) }
func (r *Registry) RegisterS2S(name string, f Factory[s2s.Provider]) { r.set(func() { r.s2s[name] = f }) }

func (r *Registry) set(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
}

// CreateSTT builds the STT provider entry names.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.build("stt", entry)
}

// CreateLLM builds the LLM provider entry names.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.build("llm", entry)
}

// CreateTTS builds the TTS provider entry names.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tts.build("tts", entry)
}

// CreateS2S builds the speech-to-speech provider entry names.
func (r *Registry) CreateS2S(entry ProviderEntry) (s2s.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.s2s.build("s2s", entry)
}

// Names returns the sorted provider names registered for kind ("stt", "llm",
// "tts" or "s2s"). Unknown kinds have no names.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "stt":
		return slices.Sorted(maps.Keys(r.stt))
	case "llm":
		return slices.Sorted(maps.Keys(r.llm))
	case "tts":
		return slices.Sorted(maps.Keys(r.tts))
	case "s2s":
		return slices.Sorted(maps.Keys(r.s2s))
	}
	return nil
}
