package mock

import (
	"context"
	"sync"

	"github.com/dylan-isaac/dotfiles-sub000/internal/judge"
)

// Call records one judgment request.
type Call struct {
	Prompt string
	Model  string
}

// Judge is a test double. Queued replies are returned in order; once they
// run out Default is returned. Handler, when set, overrides both.
type Judge struct {
	mu      sync.Mutex
	replies []string
	calls   []Call
	Default string
	Err     error
	Handler func(ctx context.Context, prompt, model string) (string, error)
}

func New(replies ...string) *Judge {
	return &Judge{replies: replies, Default: `{"success": true, "feedback": ""}`}
}

func (j *Judge) Name() string { return "mock" }

func (j *Judge) Judge(ctx context.Context, prompt, model string) (string, error) {
	j.mu.Lock()
	j.calls = append(j.calls, Call{Prompt: prompt, Model: model})
	if j.Handler != nil {
		h := j.Handler
		j.mu.Unlock()
		return h(ctx, prompt, model)
	}
	defer j.mu.Unlock()

	if j.Err != nil {
		return "", j.Err
	}
	if len(j.replies) > 0 {
		reply := j.replies[0]
		j.replies = j.replies[1:]
		return reply, nil
	}
	return j.Default, nil
}

// Calls returns a copy of the recorded requests.
func (j *Judge) Calls() []Call {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Call(nil), j.calls...)
}

var _ judge.Judge = (*Judge)(nil)
