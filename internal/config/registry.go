package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/telebridge/pkg/provider/llm"
	"github.com/MrWong99/telebridge/pkg/provider/s2s"
	"github.com/MrWong99/telebridge/pkg/provider/stt"
	"github.com/MrWong99/telebridge/pkg/provider/tts"
	"github.com/MrWong99/telebridge/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by the Create methods when nothing is
// registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories is one provider kind's name → constructor table. C is the
// configuration the constructor receives.
type factories[C, P any] struct {
	kind string
	mu   sync.RWMutex
	byID map[string]func(C) (P, error)
}

func newFactories[C, P any](kind string) *factories[C, P] {
	return &factories[C, P]{kind: kind, byID: make(map[string]func(C) (P, error))}
}

func (f *factories[C, P]) register(name string, fn func(C) (P, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[name] = fn
}

func (f *factories[C, P]) create(name string, cfg C) (P, error) {
	f.mu.RLock()
	fn, ok := f.byID[name]
	f.mu.RUnlock()
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, name)
	}
	p, err := fn(cfg)
	if err != nil {
		var zero P
		return zero, fmt.Errorf("%s/%s: %w", f.kind, name, err)
	}
	return p, nil
}

func (f *factories[C, P]) names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Sorted(maps.Keys(f.byID))
}

// Registry maps provider names to constructors, per provider kind. Main
// registers the built-in backends; tests register mocks. It is safe for
// concurrent use. Registering a name twice replaces the first constructor.
type Registry struct {
	llm *factories[ProviderEntry, llm.Provider]
	stt *factories[ProviderEntry, stt.Provider]
	tts *factories[ProviderEntry, tts.Provider]
	s2s *factories[ProviderEntry, s2s.Provider]
	vad *factories[VADConfig, vad.Engine]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm: newFactories[ProviderEntry, llm.Provider]("llm"),
		stt: newFactories[ProviderEntry, stt.Provider]("stt"),
		tts: newFactories[ProviderEntry, tts.Provider]("tts"),
		s2s: newFactories[ProviderEntry, s2s.Provider]("s2s"),
		vad: newFactories[VADConfig, vad.Engine]("vad"),
	}
}

func (r *Registry) RegisterLLM(name string, fn func(ProviderEntry) (llm.Provider, error)) {
	r.llm.register(name, fn)
}

func (r *Registry) RegisterSTT(name string, fn func(ProviderEntry) (stt.Provider, error)) {
	r.stt.register(name, fn)
}

func (r *Registry) RegisterTTS(name string, fn func(ProviderEntry) (tts.Provider, error)) {
	r.tts.register(name, fn)
}

func (r *Registry) RegisterS2S(name string, fn func(ProviderEntry) (s2s.Provider, error)) {
	r.s2s.register(name, fn)
}

// RegisterVAD registers a detector under its method name ("silero",
// "webrtc", "energy").
func (r *Registry) RegisterVAD(name string, fn func(VADConfig) (vad.Engine, error)) {
	r.vad.register(name, fn)
}

// CreateLLM builds the LLM registered under entry.Name. Errors wrap
// [ErrProviderNotRegistered] for unknown names.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return r.llm.create(entry.Name, entry)
}

func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return r.stt.create(entry.Name, entry)
}

func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return r.tts.create(entry.Name, entry)
}

func (r *Registry) CreateS2S(entry ProviderEntry) (s2s.Provider, error) {
	return r.s2s.create(entry.Name, entry)
}

// CreateVAD builds the detector registered under cfg.Method.
func (r *Registry) CreateVAD(cfg VADConfig) (vad.Engine, error) {
	return r.vad.create(string(cfg.Method), cfg)
}

// Names lists the registered names of each provider kind, sorted.
func (r *Registry) Names() map[string][]string {
	return map[string][]string{
		"llm": r.llm.names(),
		"stt": r.stt.names(),
		"tts": r.tts.names(),
		"s2s": r.s2s.names(),
		"vad": r.vad.names(),
	}
}
