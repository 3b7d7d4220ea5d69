package service

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"
	"sync"
	"testing"
	"time"

	"traffic-fine-chatbot/models"
	"traffic-fine-chatbot/parser"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testLawLines = []string{
	"Mục 1. VI PHẠM QUY TẮC GIAO THÔNG ĐƯỜNG BỘ",
	"Điều 5. Xử phạt người điều khiển xe ô tô",
	"1. Phạt tiền từ 400.000 đồng đến 600.000 đồng:",
	"a) Không chấp hành hiệu lệnh của biển báo hiệu;",
	"b) Không bật đèn chiếu sáng từ 19 giờ ngày hôm trước đến 05 giờ ngày hôm sau;",
	"2. Phạt tiền từ 4.000.000 đồng đến 6.000.000 đồng:",
	"a) Chạy quá tốc độ quy định từ 10 km/h đến 20 km/h;",
	"Điều 6. Xử phạt người điều khiển xe mô tô, xe gắn máy",
	"1. Phạt tiền từ 100.000 đồng đến 200.000 đồng:",
	"a) Không đội mũ bảo hiểm khi điều khiển xe;",
	"b) Chở người ngồi trên xe không đội mũ bảo hiểm;",
	"Mục 2. VI PHẠM KHÁC",
	"Điều 7. Xử phạt người đi bộ",
	"1. Phạt cảnh cáo hoặc phạt tiền từ 60.000 đồng đến 100.000 đồng:",
	"a) Không đi đúng phần đường quy định;",
}

// fakeEmbedder returns a deterministic pseudo-random vector per text unless
// an explicit vector, error or delay is configured for it.
type fakeEmbedder struct {
	mu      sync.Mutex
	dim     int
	vectors map[string][]float32
	errs    map[string]error
	delays  map[string]time.Duration
	calls   int
	batches [][]string
}

func newFakeEmbedder(dim int) *fakeEmbedder {
	return &fakeEmbedder{
		dim:     dim,
		vectors: map[string][]float32{},
		errs:    map[string]error{},
		delays:  map[string]time.Duration{},
	}
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	vec, ok := f.vectors[text]
	err := f.errs[text]
	delay := f.delays[text]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if ok {
		return vec, nil
	}
	return hashVector(text, f.dim), nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.batches = append(f.batches, append([]string(nil), texts...))
	f.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func hashVector(text string, dim int) []float32 {
	vec := make([]float32, dim)
	for i := range vec {
		h := fnv.New64a()
		h.Write([]byte(text))
		var idx [8]byte
		binary.LittleEndian.PutUint64(idx[:], uint64(i))
		h.Write(idx[:])
		vec[i] = float32(h.Sum64()%2001)/1000 - 1
	}
	return vec
}

// MockGenerator is a mock implementation of llm.Generator
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func buildKnowledgeBase(t *testing.T, emb *fakeEmbedder) (*KnowledgeBase, *models.LawRecord) {
	t.Helper()
	record, err := parser.Parse(testLawLines)
	require.NoError(t, err)

	_, err = NewAnnotator(emb, AnnotateWithBatchSize(2), AnnotateWithWorkers(3)).Annotate(context.Background(), record)
	require.NoError(t, err)

	kb, err := NewKnowledgeBase(record)
	require.NoError(t, err)
	return kb, record
}

func unit(angle float64) []float32 {
	return []float32{float32(math.Cos(angle)), float32(math.Sin(angle))}
}
