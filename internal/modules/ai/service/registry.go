package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

var ErrProviderUnavailable = errors.New("no reasoning provider available")

// Provider — рассуждающий коллаборатор. Ядро видит только текст ответа.
type Provider interface {
	Name() string
	IsAvailable() bool
	Generate(ctx context.Context, system, user string) (string, error)
}

// ChatProvider — Provider поверх eino chat-модели.
type ChatProvider struct {
	name  string
	model model.BaseChatModel
	err   error
}

// NewChatProvider: m == nil означает, что модель не поднялась (reason — почему).
func NewChatProvider(name string, m model.BaseChatModel, reason error) *ChatProvider {
	return &ChatProvider{name: name, model: m, err: reason}
}

func (p *ChatProvider) Name() string      { return p.name }
func (p *ChatProvider) IsAvailable() bool { return p.model != nil }

// Unavailable — причина недоступности, nil если доступен.
func (p *ChatProvider) Unavailable() error {
	if p.model != nil {
		return nil
	}
	if p.err != nil {
		return p.err
	}
	return ErrProviderUnavailable
}

func (p *ChatProvider) Generate(ctx context.Context, system, user string) (string, error) {
	if p.model == nil {
		return "", fmt.Errorf("ChatProvider.Generate %s: %w", p.name, p.Unavailable())
	}
	msgs := []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(user),
	}
	resp, err := p.model.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("ChatProvider.Generate %s: %w", p.name, err)
	}
	if resp == nil {
		return "", fmt.Errorf("ChatProvider.Generate %s: empty response", p.name)
	}
	return resp.Content, nil
}

// Registry — имя провайдера -> реализация, заполняется на старте.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	preferred string
}

func NewRegistry(preferred string) *Registry {
	return &Registry{providers: make(map[string]Provider), preferred: preferred}
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Available — имена доступных провайдеров по алфавиту.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, p := range r.providers {
		if p.IsAvailable() {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Default — предпочтительный, если доступен, иначе первый доступный.
func (r *Registry) Default() (Provider, error) {
	if p, ok := r.Get(r.preferred); ok && p.IsAvailable() {
		return p, nil
	}
	available := r.Available()
	if len(available) == 0 {
		return nil, ErrProviderUnavailable
	}
	p, _ := r.Get(available[0])
	return p, nil
}
