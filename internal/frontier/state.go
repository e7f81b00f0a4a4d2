package frontier

// State is the lifecycle position of a per-site frontier.
type State int

// Frontier states, in the only order they can be entered.
const (
	StateNew State = iota
	StateSeeded
	StateExpanding
	StateScoring
	StateSelected
	StateDone
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateSeeded:
		return "seeded"
	case StateExpanding:
		return "expanding"
	case StateScoring:
		return "scoring"
	case StateSelected:
		return "selected"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}
