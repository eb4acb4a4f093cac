package monitor

// State is the lifecycle stage of a Pipeline.
type State int

const (
	Idle State = iota
	Running
	Stopping
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// State returns the pipeline's current state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// transition moves from one state to another, reporting false if the
// pipeline was not in from.
func (p *Pipeline) transition(from, to State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != from {
		return false
	}
	p.state = to
	return true
}

// setState enters a terminal state from Running or Stopping.
func (p *Pipeline) setState(to State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Running || p.state == Stopping {
		p.state = to
	}
}
