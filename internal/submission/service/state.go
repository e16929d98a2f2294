package service

import "fmt"

// State is a step of the submission state machine.
type State string

const (
	StateReceived           State = "RECEIVED"
	StateBundleDecrypted    State = "BUNDLE_DECRYPTED"
	StateItemsClassified    State = "ITEMS_CLASSIFIED"
	StateConsentChecked     State = "CONSENT_CHECKED"
	StateCredentialsChecked State = "CREDENTIALS_CHECKED"
	StateRejected           State = "REJECTED"
	StatePersisted          State = "PERSISTED"
	StateStatsRecorded      State = "STATS_RECORDED"
)

var transitions = map[State][]State{
	StateReceived:           {StateBundleDecrypted, StateCredentialsChecked},
	StateBundleDecrypted:    {StateItemsClassified},
	StateItemsClassified:    {StateConsentChecked},
	StateConsentChecked:     {StateCredentialsChecked, StateRejected},
	StateCredentialsChecked: {StateRejected, StatePersisted},
	StatePersisted:          {StateStatsRecorded},
}

// machine tracks one submission's progress and refuses illegal moves.
type machine struct {
	state   State
	history []State
}

func newMachine() *machine {
	return &machine{state: StateReceived, history: []State{StateReceived}}
}

func (m *machine) advance(next State) error {
	for _, allowed := range transitions[m.state] {
		if allowed == next {
			m.state = next
			m.history = append(m.history, next)
			return nil
		}
	}
	return fmt.Errorf("illegal submission transition %s -> %s", m.state, next)
}

// must is advance for transitions the caller's control flow guarantees.
func (m *machine) must(next State) {
	if err := m.advance(next); err != nil {
		panic(err)
	}
}
