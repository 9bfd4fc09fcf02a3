package stress

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muzarski/scylla-cluster-tests/internal/cluster"
)

// State of one invocation's lifecycle.
type State string

const (
	StateIdle         State = "idle"
	StateTranslating  State = "translating"
	StateProvisioning State = "provisioning"
	StateRunning      State = "running"
	StateFailed       State = "failed"
	StateReporting    State = "reporting"
	StateDone         State = "done"
)

// validTransitions encodes the lifecycle: the happy path walks every
// state in order, Failed absorbs provisioning and running errors, and
// both Failed and the happy path pass through Reporting before Done.
var validTransitions = map[State][]State{
	StateIdle:         {StateTranslating},
	StateTranslating:  {StateProvisioning, StateFailed},
	StateProvisioning: {StateRunning, StateFailed},
	StateRunning:      {StateReporting, StateFailed},
	StateFailed:       {StateReporting},
	StateReporting:    {StateDone},
	StateDone:         {},
}

// Invocation is one stress execution moving through the lifecycle.
// Fields other than state are written once during the run and read by
// the harness afterwards.
type Invocation struct {
	ID     InvocationID
	Loader cluster.Loader
	// Marker tags the container and the remote shell for discovery.
	Marker    string
	Operation string
	// OriginalCmd is the command as configured, pre-translation.
	OriginalCmd string
	// Command is the translated command that actually ran.
	Command   string
	LogPath   string
	StartedAt time.Time

	mu    sync.Mutex
	state State
}

func newInvocation(id InvocationID, loader cluster.Loader, originalCmd string) *Invocation {
	return &Invocation{
		ID:          id,
		Loader:      loader,
		Marker:      NewMarker(),
		OriginalCmd: originalCmd,
		StartedAt:   time.Now(),
		state:       StateIdle,
	}
}

// State returns the current lifecycle state.
func (inv *Invocation) State() State {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.state
}

// advance moves the invocation to the next state, enforcing the
// transition table.
func (inv *Invocation) advance(to State, logger *zap.Logger) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	for _, allowed := range validTransitions[inv.state] {
		if allowed == to {
			logger.Debug("invocation state change",
				zap.String("invocation", inv.ID.String()),
				zap.String("from", string(inv.state)),
				zap.String("to", string(to)))
			inv.state = to
			return
		}
	}
	logger.DPanic("invalid invocation state transition",
		zap.String("invocation", inv.ID.String()),
		zap.String("from", string(inv.state)),
		zap.String("to", string(to)))
}
