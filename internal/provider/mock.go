package provider

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"
)

type mockAnswer struct {
	text       string
	confidence float64
}

var mockAnswers = []mockAnswer{
	{
		text:       "Great selection! This code looks clean. Here are some observations:\n\n• The function is well-structured\n• Consider adding error handling\n• Variable names are descriptive",
		confidence: 0.85,
	},
	{
		text:       "Interesting code snippet! Here's my analysis:\n\n• Good use of recursion\n• Consider memoization for better performance\n• The base case is handled correctly",
		confidence: 0.92,
	},
	{
		text:       "Code review feedback:\n\n• This implementation is efficient\n• Consider adding doc comments\n• Type checking could improve robustness",
		confidence: 0.78,
	},
}

// MockBackend answers with canned reviews after an artificial delay.
type MockBackend struct {
	minLatency time.Duration
	maxLatency time.Duration
	chunkDelay time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewMockBackend(minLatency, maxLatency, chunkDelay time.Duration, seed int64) *MockBackend {
	if maxLatency < minLatency {
		maxLatency = minLatency
	}
	return &MockBackend{
		minLatency: minLatency,
		maxLatency: maxLatency,
		chunkDelay: chunkDelay,
		rnd:        rand.New(rand.NewSource(seed)),
	}
}

func (m *MockBackend) pick() (mockAnswer, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	answer := mockAnswers[m.rnd.Intn(len(mockAnswers))]
	latency := m.minLatency
	if spread := m.maxLatency - m.minLatency; spread > 0 {
		latency += time.Duration(m.rnd.Int63n(int64(spread)))
	}
	return answer, latency
}

func (m *MockBackend) Complete(ctx context.Context, call Call) (Completion, error) {
	answer, latency := m.pick()
	if err := sleep(ctx, latency); err != nil {
		return Completion{}, err
	}
	return Completion{Text: answer.text, Confidence: answer.confidence, Mock: true}, nil
}

func (m *MockBackend) Stream(ctx context.Context, call Call, onDelta func(string)) (Completion, error) {
	answer, latency := m.pick()
	if err := sleep(ctx, latency); err != nil {
		return Completion{}, err
	}
	for i, chunk := range splitChunks(answer.text) {
		if i > 0 {
			if err := sleep(ctx, m.chunkDelay); err != nil {
				return Completion{}, err
			}
		}
		onDelta(chunk)
	}
	return Completion{Text: answer.text, Confidence: answer.confidence, Mock: true}, nil
}

// splitChunks cuts text after every space; joining the pieces gives text back.
func splitChunks(text string) []string {
	parts := strings.SplitAfter(text, " ")
	chunks := parts[:0]
	for _, p := range parts {
		if p != "" {
			chunks = append(chunks, p)
		}
	}
	return chunks
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
