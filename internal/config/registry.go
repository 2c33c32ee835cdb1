package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/asr"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/embed"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/fleet"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/handoff"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/nlu"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/tts"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/session"
)

// ErrAdapterNotRegistered is returned by Create* methods when no factory has
// been registered under the requested adapter name.
var ErrAdapterNotRegistered = errors.New("config: adapter not registered")

// Registry maps adapter names to their constructor functions for each
// adapter kind. It is safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	recognizers  map[string]func(AdapterEntry) (asr.Provider, error)
	understander map[string]func(AdapterEntry) (nlu.Provider, error)
	synthesizers map[string]func(AdapterEntry) (tts.Provider, error)
	data         map[string]func(AdapterEntry) (fleet.Provider, error)
	handoffs     map[string]func(AdapterEntry) (handoff.Provider, error)
	stores       map[string]func(SessionStoreConfig) (session.Store, error)
	embedders    map[string]func(AdapterEntry) (embed.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		recognizers:  make(map[string]func(AdapterEntry) (asr.Provider, error)),
		understander: make(map[string]func(AdapterEntry) (nlu.Provider, error)),
		synthesizers: make(map[string]func(AdapterEntry) (tts.Provider, error)),
		data:         make(map[string]func(AdapterEntry) (fleet.Provider, error)),
		handoffs:     make(map[string]func(AdapterEntry) (handoff.Provider, error)),
		stores:       make(map[string]func(SessionStoreConfig) (session.Store, error)),
		embedders:    make(map[string]func(AdapterEntry) (embed.Provider, error)),
	}
}

// RegisterRecognizer registers a speech-to-text factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterRecognizer(name string, factory func(AdapterEntry) (asr.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizers[name] = factory
}

// RegisterUnderstander registers a language-understanding factory under name.
func (r *Registry) RegisterUnderstander(name string, factory func(AdapterEntry) (nlu.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.understander[name] = factory
}

// RegisterSynthesizer registers a text-to-speech factory under name.
func (r *Registry) RegisterSynthesizer(name string, factory func(AdapterEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synthesizers[name] = factory
}

// RegisterData registers a fleet-data client factory under name.
func (r *Registry) RegisterData(name string, factory func(AdapterEntry) (fleet.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[name] = factory
}

// RegisterHandoff registers an escalation-channel factory under name.
func (r *Registry) RegisterHandoff(name string, factory func(AdapterEntry) (handoff.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handoffs[name] = factory
}

// RegisterStore registers a session-store factory under name.
func (r *Registry) RegisterStore(name string, factory func(SessionStoreConfig) (session.Store, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[name] = factory
}

// RegisterEmbedder registers an embedding-backend factory under name.
func (r *Registry) RegisterEmbedder(name string, factory func(AdapterEntry) (embed.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embedders[name] = factory
}

// CreateRecognizer instantiates the speech-to-text adapter registered under
// entry.Name. Returns [ErrAdapterNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateRecognizer(entry AdapterEntry) (asr.Provider, error) {
	r.mu.RLock()
	factory, ok := r.recognizers[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: recognizer/%q", ErrAdapterNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateUnderstander instantiates the language-understanding adapter
// registered under entry.Name.
func (r *Registry) CreateUnderstander(entry AdapterEntry) (nlu.Provider, error) {
	r.mu.RLock()
	factory, ok := r.understander[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: understander/%q", ErrAdapterNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSynthesizer instantiates the text-to-speech adapter registered under
// entry.Name.
func (r *Registry) CreateSynthesizer(entry AdapterEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.synthesizers[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: synthesizer/%q", ErrAdapterNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateData instantiates the fleet-data client registered under entry.Name.
func (r *Registry) CreateData(entry AdapterEntry) (fleet.Provider, error) {
	r.mu.RLock()
	factory, ok := r.data[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: data/%q", ErrAdapterNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateHandoff instantiates the escalation channel registered under
// entry.Name.
func (r *Registry) CreateHandoff(entry AdapterEntry) (handoff.Provider, error) {
	r.mu.RLock()
	factory, ok := r.handoffs[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: handoff/%q", ErrAdapterNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateStore instantiates the session store registered under sc.Name.
func (r *Registry) CreateStore(sc SessionStoreConfig) (session.Store, error) {
	r.mu.RLock()
	factory, ok := r.stores[sc.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: store/%q", ErrAdapterNotRegistered, sc.Name)
	}
	return factory(sc)
}

// CreateEmbedder instantiates the embedding backend registered under
// entry.Name.
func (r *Registry) CreateEmbedder(entry AdapterEntry) (embed.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embedders[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embedder/%q", ErrAdapterNotRegistered, entry.Name)
	}
	return factory(entry)
}
