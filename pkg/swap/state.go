package swap

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

type State int

const (
	StateCreated State = iota
	StateAwaitingLockup
	StateAwaitingConfirmation
	StateSpendBuilt
	StateBroadcast
	StateSettled
	StateFailed
	StateExpired
)

var stateNames = map[State]string{
	StateCreated:              "CREATED",
	StateAwaitingLockup:       "AWAITING_LOCKUP",
	StateAwaitingConfirmation: "AWAITING_CONFIRMATION",
	StateSpendBuilt:           "SPEND_BUILT",
	StateBroadcast:            "BROADCAST",
	StateSettled:              "SETTLED",
	StateFailed:               "FAILED",
	StateExpired:              "EXPIRED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) IsFinal() bool {
	return s == StateSettled || s == StateFailed || s == StateExpired
}

var transitions = map[State][]State{
	StateCreated:              {StateAwaitingLockup, StateFailed},
	StateAwaitingLockup:       {StateAwaitingConfirmation, StateSpendBuilt, StateExpired, StateFailed},
	StateAwaitingConfirmation: {StateSpendBuilt, StateFailed},
	StateSpendBuilt:           {StateBroadcast, StateFailed},
	StateBroadcast:            {StateSettled, StateFailed},
}

// StateObserver is notified of every transition of every swap.
type StateObserver func(swapId string, from, to State)

// lifecycle walks a single claim or refund through the state machine.
type lifecycle struct {
	mu       sync.Mutex
	id       string
	state    State
	observer StateObserver
	log      *log.Entry
}

func newLifecycle(id, kind string, observer StateObserver) *lifecycle {
	return &lifecycle{
		id:       id,
		state:    StateCreated,
		observer: observer,
		log:      log.WithFields(log.Fields{"swap": id, "kind": kind}),
	}
}

func (l *lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *lifecycle) transition(to State) error {
	l.mu.Lock()
	from := l.state
	allowed := false
	for _, next := range transitions[from] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	l.state = to
	l.mu.Unlock()

	l.log.Debugf("%s -> %s", from, to)
	if l.observer != nil {
		l.observer(l.id, from, to)
	}
	return nil
}

// fail moves the swap to FAILED, or EXPIRED when expired is set, and returns
// err unchanged.
func (l *lifecycle) fail(err error, expired bool) error {
	to := StateFailed
	if expired {
		to = StateExpired
	}
	if tErr := l.transition(to); tErr != nil {
		l.log.WithError(tErr).Warn("swap already in a final state")
		return err
	}
	l.log.WithError(err).Warnf("swap %s", to)
	return err
}
