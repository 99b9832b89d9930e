// Package gatewaytest provides a scripted gateway for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nhle/mail-triage/internal/gateway"
)

// Reply is one scripted answer: either Text or Err.
type Reply struct {
	Text string
	Err  error
}

// Text is a successful reply.
func Text(s string) Reply { return Reply{Text: s} }

// Fail is a failed reply of the given kind.
func Fail(kind gateway.Kind) Reply {
	return Reply{Err: &gateway.Failure{Kind: kind, Detail: "scripted"}}
}

// Fake answers prompts from scripts. A prompt is matched against the rules
// in registration order by substring; the first rule with replies left
// answers. With no matching rule, Default answers, and with no Default the
// call fails as malformed.
type Fake struct {
	mu      sync.Mutex
	rules   []*rule
	Default *Reply
	prompts []string
	hook    func(prompt string)
}

type rule struct {
	contains string
	replies  []Reply
	sticky   bool
}

// New returns an empty Fake.
func New() *Fake { return &Fake{} }

// On queues replies for prompts containing substr. Each call consumes one
// reply.
func (f *Fake) On(substr string, replies ...Reply) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, &rule{contains: substr, replies: replies})
	return f
}

// Always answers every prompt containing substr with r.
func (f *Fake) Always(substr string, r Reply) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, &rule{contains: substr, replies: []Reply{r}, sticky: true})
	return f
}

// OnCall runs hook at the start of every Complete call, outside the lock.
func (f *Fake) OnCall(hook func(prompt string)) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hook = hook
	return f
}

func (f *Fake) Complete(ctx context.Context, prompt string, _ time.Duration) (string, error) {
	f.mu.Lock()
	hook := f.hook
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	if hook != nil {
		hook(prompt)
	}
	if err := ctx.Err(); err != nil {
		return "", &gateway.Failure{Kind: gateway.NetworkFailure, Err: err}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rules {
		if !strings.Contains(prompt, r.contains) || len(r.replies) == 0 {
			continue
		}
		reply := r.replies[0]
		if !r.sticky {
			r.replies = r.replies[1:]
		}
		return reply.Text, reply.Err
	}
	if f.Default != nil {
		return f.Default.Text, f.Default.Err
	}
	return "", &gateway.Failure{
		Kind:   gateway.MalformedResponse,
		Detail: fmt.Sprintf("no scripted reply for prompt %.40q", prompt),
	}
}

// Prompts returns every prompt received so far.
func (f *Fake) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

// Calls returns how many prompts contained substr.
func (f *Fake) Calls(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.prompts {
		if strings.Contains(p, substr) {
			n++
		}
	}
	return n
}
