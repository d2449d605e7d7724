// Package transform post-processes raw tool output before it re-enters
// the conversation. Transformers shrink or reshape output; they never
// fail an invocation and never grow the payload.
package transform

import (
	"context"
	"fmt"

	"github.com/inquest-dev/inquest/internal/logging"
	"github.com/inquest-dev/inquest/internal/provider"
	"github.com/inquest-dev/inquest/internal/toolset"
)

// Transformer rewrites raw tool output. Returning an error makes the
// chain fall back to the input; it never propagates to the caller.
type Transformer interface {
	Name() string
	Apply(ctx context.Context, raw string) (string, error)
}

// Chain applies transformers in declaration order, feeding each one the
// previous output.
type Chain struct {
	transformers []Transformer
	logger       *logging.Logger
}

// BuildChain instantiates the transformers declared on a tool. fast is
// the summarization model; nil disables llm_summarize without removing
// it from the chain.
func BuildChain(configs []toolset.TransformerConfig, fast provider.Provider) (*Chain, error) {
	chain := &Chain{logger: logging.GetLogger("transform")}
	for _, cfg := range configs {
		switch cfg.Name {
		case "llm_summarize":
			chain.transformers = append(chain.transformers, NewLLMSummarizer(cfg.Config, fast))
		case "truncate":
			chain.transformers = append(chain.transformers, NewTruncator(cfg.Config))
		default:
			return nil, fmt.Errorf("unknown transformer %q", cfg.Name)
		}
	}
	return chain, nil
}

// Apply runs the chain. A transformer error falls back to that step's
// input; the chain always returns usable output. The second return lists
// the transformers that changed the payload.
func (c *Chain) Apply(ctx context.Context, raw string) (string, []string) {
	out := raw
	var activated []string
	for _, t := range c.transformers {
		next, err := t.Apply(ctx, out)
		if err != nil {
			c.logger.WarnWithFields("transformer failed, keeping raw output",
				logging.Field("transformer", t.Name()),
				logging.Field("error", err.Error()),
			)
			continue
		}
		if next != out {
			activated = append(activated, t.Name())
		}
		out = next
	}
	return out, activated
}

// Len reports the number of configured transformers.
func (c *Chain) Len() int { return len(c.transformers) }
