package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestGetMetrics_Singleton(t *testing.T) {
	assert.Same(t, GetMetrics(), GetMetrics())
}

func TestRecorders(t *testing.T) {
	m := GetMetrics()

	before := testutil.ToFloat64(m.ChatRequests.WithLabelValues(StatusSuccess))
	RecordChat(StatusSuccess, 2*time.Second, 3)
	assert.Equal(t, before+1, testutil.ToFloat64(m.ChatRequests.WithLabelValues(StatusSuccess)))

	before = testutil.ToFloat64(m.Fallbacks.WithLabelValues("synthesize"))
	RecordFallback("synthesize")
	assert.Equal(t, before+1, testutil.ToFloat64(m.Fallbacks.WithLabelValues("synthesize")))

	before = testutil.ToFloat64(m.LLMCalls.WithLabelValues("generate", StatusError))
	RecordLLMCall("generate", StatusError, time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(m.LLMCalls.WithLabelValues("generate", StatusError)))

	before = testutil.ToFloat64(m.DetailsEmbedded)
	AddDetailsEmbedded(7)
	assert.Equal(t, before+7, testutil.ToFloat64(m.DetailsEmbedded))

	SetKnowledgeBaseSize(42)
	assert.Equal(t, float64(42), testutil.ToFloat64(m.KnowledgeBase))
}
