package widget

import (
	"math/rand/v2"
	"slices"
	"sync"
)

// Suggestions draws the prompts shown in the logged-in welcome block.
type Suggestions struct {
	mu      sync.Mutex
	prompts []string
	rnd     *rand.Rand
}

// NewSuggestions creates a sampler over prompts. A nil src seeds from the runtime.
func NewSuggestions(prompts []string, src rand.Source) *Suggestions {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Suggestions{
		prompts: slices.Clone(prompts),
		rnd:     rand.New(src),
	}
}

// Draw fills slots suggestions by sampling without replacement. Every draw starts from the full list,
// and the pool refills if slots exceeds the number of prompts.
func (s *Suggestions) Draw(slots int) []string {
	if slots <= 0 || len(s.prompts) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, slots)
	var pool []string
	for len(out) < slots {
		if len(pool) == 0 {
			pool = slices.Clone(s.prompts)
		}
		i := s.rnd.IntN(len(pool))
		out = append(out, pool[i])
		pool = slices.Delete(pool, i, i+1)
	}
	return out
}
