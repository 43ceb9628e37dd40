package usecase

import (
	"context"
	"errors"
	"sync"

	"visible-relay/internal/domain/entity"
)

type fakeProvider struct {
	name string

	mu      sync.Mutex
	calls   int
	prompts []entity.VisionPrompt
	// replies are consumed in order; the last one repeats
	replies []fakeReply
}

type fakeReply struct {
	reply *entity.VisionReply
	err   error
	block bool // wait for ctx to end
}

func newFakeProvider(name string, replies ...fakeReply) *fakeProvider {
	return &fakeProvider{name: name, replies: replies}
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Describe(ctx context.Context, prompt entity.VisionPrompt) (*entity.VisionReply, error) {
	f.mu.Lock()
	idx := f.calls
	if idx >= len(f.replies) {
		idx = len(f.replies) - 1
	}
	f.calls++
	f.prompts = append(f.prompts, prompt)
	r := f.replies[idx]
	f.mu.Unlock()

	if r.block {
		<-ctx.Done()
		return nil, &entity.UpstreamError{Provider: f.name, Timeout: true, Retryable: true, Err: ctx.Err()}
	}
	return r.reply, r.err
}

func (f *fakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func ok(text string) fakeReply {
	return fakeReply{reply: &entity.VisionReply{Text: text, Provider: "fake", TokenCount: 120}}
}

func fail(retryable bool) fakeReply {
	return fakeReply{err: &entity.UpstreamError{Provider: "fake", StatusCode: 503, Retryable: retryable, Err: errors.New("boom")}}
}

type fakeLimiter struct {
	mu       sync.Mutex
	allowed  bool
	checkErr error
	incrErr  error
	usage    map[string]int
}

func newFakeLimiter(allowed bool) *fakeLimiter {
	return &fakeLimiter{allowed: allowed, usage: map[string]int{}}
}

func (l *fakeLimiter) CheckLimit(_ context.Context, _ string) (bool, error) {
	return l.allowed, l.checkErr
}

func (l *fakeLimiter) Increment(_ context.Context, clientID string, tokens int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.usage[clientID] += tokens
	return l.incrErr
}
