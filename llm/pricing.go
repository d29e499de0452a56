package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

var DefaultRefreshInterval = 12 * time.Hour

const DefaultPricingURL = "https://raw.githubusercontent.com/BerriAI/litellm/refs/heads/main/model_prices_and_context_window.json"

type ModelPrice struct {
	OutputCostPerToken float64 `json:"output_cost_per_token"`
	InputCostPerToken  float64 `json:"input_cost_per_token"`
	Provider           string  `json:"litellm_provider"`
	Mode               string  `json:"mode"` // chat, embedding, moderation, audio_speech, audio_transcription, etc
}

// Usage is the token accounting block of a chat completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// ModelPricing keeps a periodically refreshed price table used to estimate
// the cost of each completion.
type ModelPricing struct {
	pricing     map[string]*ModelPrice
	lastUpdated time.Time
	mu          sync.RWMutex
	ctx         context.Context
	cancelFunc  context.CancelFunc
	once        sync.Once
	done        chan struct{}
	onError     func(error)
	onUpdate    func(int)
	interval    time.Duration
	url         string
	client      *http.Client
}

func (p *ModelPricing) GetPrice(model string) *ModelPrice {
	p.mu.RLock()
	val := p.pricing[model]
	p.mu.RUnlock()
	return val
}

// Cost estimates the dollar cost of usage on model. The bool is false when
// the model has no known price.
func (p *ModelPricing) Cost(model string, usage Usage) (float64, bool) {
	price := p.GetPrice(model)
	if price == nil {
		return 0, false
	}
	return float64(usage.PromptTokens)*price.InputCostPerToken +
		float64(usage.CompletionTokens)*price.OutputCostPerToken, true
}

// LastUpdated returns when the price table was last refreshed.
func (p *ModelPricing) LastUpdated() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastUpdated
}

// Close stops the refresh loop and waits for it to exit.
func (p *ModelPricing) Close() {
	p.once.Do(func() {
		p.cancelFunc()
		<-p.done
	})
}

func (p *ModelPricing) updatePrices() {
	req, err := http.NewRequestWithContext(p.ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.onError(errors.Wrap(err, "failed to create request"))
		return
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.onError(errors.Wrap(err, "failed to update prices"))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		p.onError(errors.Newf("failed to update prices: status %d", resp.StatusCode))
		return
	}

	var pricing map[string]*ModelPrice
	if err = json.NewDecoder(resp.Body).Decode(&pricing); err != nil {
		p.onError(errors.Wrap(err, "failed to decode pricing"))
		return
	}
	p.mu.Lock()
	p.pricing = pricing
	p.lastUpdated = time.Now()
	p.mu.Unlock()
	p.onUpdate(len(pricing))
}

func (p *ModelPricing) run() {
	defer close(p.done)
	t := time.NewTicker(p.interval)
	defer t.Stop()

	p.updatePrices()

	for {
		select {
		case <-t.C:
			p.updatePrices()
		case <-p.ctx.Done():
			return
		}
	}
}

type PricingOption func(*ModelPricing)

func WithInterval(interval time.Duration) PricingOption {
	return func(p *ModelPricing) {
		p.interval = interval
	}
}

func WithOnError(onError func(error)) PricingOption {
	return func(p *ModelPricing) {
		p.onError = onError
	}
}

func WithOnUpdate(onUpdate func(int)) PricingOption {
	return func(p *ModelPricing) {
		p.onUpdate = onUpdate
	}
}

// WithPricingURL overrides where the price table is fetched from.
func WithPricingURL(url string) PricingOption {
	return func(p *ModelPricing) {
		p.url = url
	}
}

// WithPricingHTTPClient sets the HTTP client used to fetch prices.
func WithPricingHTTPClient(client *http.Client) PricingOption {
	return func(p *ModelPricing) {
		p.client = client
	}
}

// NewModelPricing fetches the price table and keeps it fresh until ctx is
// done or Close is called.
func NewModelPricing(ctx context.Context, options ...PricingOption) *ModelPricing {
	ctx, cancel := context.WithCancel(ctx)
	lm := &ModelPricing{
		ctx:        ctx,
		cancelFunc: cancel,
		done:       make(chan struct{}),
		url:        DefaultPricingURL,
		client:     http.DefaultClient,
	}

	for _, option := range options {
		option(lm)
	}
	if lm.onError == nil {
		lm.onError = func(err error) {}
	}
	if lm.onUpdate == nil {
		lm.onUpdate = func(count int) {} // no-op
	}
	if lm.interval == 0 {
		lm.interval = DefaultRefreshInterval
	}

	go lm.run()
	return lm
}
