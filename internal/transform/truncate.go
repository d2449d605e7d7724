package transform

import "context"

// DefaultMaxBytes is the truncation limit when none is configured.
const DefaultMaxBytes = 16384

const truncationMarker = "\n... [output truncated]"

// Truncator hard-caps output size. It is the cheap fallback for tools
// whose output does not summarize well.
type Truncator struct {
	maxBytes int
}

func NewTruncator(cfg map[string]interface{}) *Truncator {
	return &Truncator{maxBytes: intOption(cfg, "max_bytes", DefaultMaxBytes)}
}

func (t *Truncator) Name() string { return "truncate" }

func (t *Truncator) Apply(_ context.Context, raw string) (string, error) {
	// Truncating only pays off when the capped output plus the marker is
	// still shorter than the original.
	if len(raw) <= t.maxBytes+len(truncationMarker) {
		return raw, nil
	}
	return raw[:t.maxBytes] + truncationMarker, nil
}
