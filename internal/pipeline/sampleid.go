package pipeline

import (
	"sync/atomic"

	"github.com/text2mem/benchctl/internal/t2m"
)

// SampleIDGenerator assigns canonical sample ids from a single monotonic
// counter shared across every sample it mints, per §4.2's "counter scoped
// per generator instance" -- one instance lives for the lifetime of a
// PipelineController run.
type SampleIDGenerator struct {
	counter int64
}

// Next mints the next canonical sample id for the given classification and
// primary operation.
func (g *SampleIDGenerator) Next(class t2m.Classification, op t2m.Op) string {
	n := atomic.AddInt64(&g.counter, 1)
	return t2m.FormatSampleID(class, op, int(n))
}

// normalizeClassificationKeys repairs the common key misspelling the
// generation model produces ("instruction" instead of "instruction_type")
// before the raw map is decoded into a Classification (§4.2).
func normalizeClassificationKeys(raw map[string]interface{}) {
	if raw == nil {
		return
	}
	if v, ok := raw["instruction"]; ok {
		if _, hasCorrect := raw["instruction_type"]; !hasCorrect {
			raw["instruction_type"] = v
		}
		delete(raw, "instruction")
	}
}
