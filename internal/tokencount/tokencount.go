// Package tokencount provides pre-flight token estimation for rate limiting.
// Counts use the tokenizer registered for the target model -- different models
// segment text differently, and an estimate computed with the wrong tokenizer
// can systematically under-count and defeat the daily budget. A model with no
// known tokenizer is an error, never a silent heuristic fallback.
package tokencount

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	haven "github.com/haven-app/haven/internal"
)

// Per-message framing overhead and reply priming, per the OpenAI
// tokenization scheme (each message is wrapped in role markers, and every
// reply is primed with <|start|>assistant<|message|>).
const (
	tokensPerMessage = 3
	replyPriming     = 3
)

// Encoding tokenizes text for one specific model.
type Encoding interface {
	Encode(text string) []int
}

// EncodingLookup resolves a model identifier to its tokenizer.
// The default lookup is tiktoken's model table; tests inject a fake.
type EncodingLookup func(model string) (Encoding, error)

// Counter estimates prompt token counts for chat requests.
type Counter struct {
	lookup EncodingLookup

	mu   sync.Mutex
	encs map[string]Encoding // per-model, init is expensive
}

// NewCounter creates a Counter backed by tiktoken's model registry.
func NewCounter() *Counter {
	return NewCounterWithLookup(tiktokenLookup)
}

// NewCounterWithLookup creates a Counter with a custom encoding lookup.
func NewCounterWithLookup(lookup EncodingLookup) *Counter {
	return &Counter{lookup: lookup, encs: make(map[string]Encoding)}
}

// EstimateMessages returns the estimated prompt token count for messages
// against the given model's tokenizer. The estimate is advisory: the
// authoritative cost is whatever the upstream provider reports.
func (c *Counter) EstimateMessages(model string, messages []haven.Message) (int, error) {
	enc, err := c.encoding(model)
	if err != nil {
		return 0, fmt.Errorf("no tokenizer for model %q: %w", model, err)
	}

	total := replyPriming
	for _, m := range messages {
		total += tokensPerMessage
		total += len(enc.Encode(m.Role))
		total += len(enc.Encode(m.Content))
	}
	return total, nil
}

func (c *Counter) encoding(model string) (Encoding, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encs[model]; ok {
		return enc, nil
	}
	enc, err := c.lookup(model)
	if err != nil {
		return nil, err
	}
	c.encs[model] = enc
	return enc, nil
}

// tiktokenEncoding adapts *tiktoken.Tiktoken to the Encoding interface.
type tiktokenEncoding struct {
	tk *tiktoken.Tiktoken
}

func (e tiktokenEncoding) Encode(text string) []int {
	return e.tk.Encode(text, nil, nil)
}

func tiktokenLookup(model string) (Encoding, error) {
	tk, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, err
	}
	return tiktokenEncoding{tk: tk}, nil
}
