package registry

import "time"

type Kind string

const (
	KindSummary Kind = "summary"
	KindStory   Kind = "story"
)

// Kinds lists every task kind in the order the index page renders them.
func Kinds() []Kind {
	return []Kind{KindSummary, KindStory}
}

func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindSummary:
		return KindSummary, true
	case KindStory:
		return KindStory, true
	default:
		return "", false
	}
}

type State string

const (
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateError      State = "error"
)

// Task is one unit of background work. A task is written only by its own
// executor goroutine until it reaches a terminal state, after which it is
// immutable and waits to be consumed by a page-render request.
type Task struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	State       State     `json:"state"`
	Result      string    `json:"result,omitempty"`
	Diagnostics []string  `json:"diagnostics,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (t Task) Clone() Task {
	out := t
	if t.Diagnostics != nil {
		out.Diagnostics = make([]string, len(t.Diagnostics))
		copy(out.Diagnostics, t.Diagnostics)
	}
	return out
}

func (t Task) Terminal() bool {
	switch t.State {
	case StateCompleted, StateError:
		return true
	default:
		return false
	}
}
