// Package smoothing turns a jittery per-frame classification stream into
// stable, debounced word commits.
//
// A Machine keeps a fixed-size window of recent classifications. The
// window's majority token becomes the stable token once it reaches the
// vote threshold; a stable token commits after it has been held for the
// stability duration. Each stability episode commits at most once, and
// the same token cannot commit again until the cooldown has elapsed since
// its last commit. A different token is never held back by another
// token's cooldown.
//
// A Machine is not safe for concurrent use. Callers own one per session
// and must apply frames in timestamp order.
package smoothing

import (
	"fmt"
	"time"

	"github.com/ayusman/signbridge/internal/classify"
)

// Reference tuning values.
const (
	DefaultWindow         = 10
	DefaultMinConfidence  = 0.75
	DefaultVoteThreshold  = 0.70
	DefaultStableDuration = 400 * time.Millisecond
	DefaultCooldown       = 1000 * time.Millisecond
)

// Config tunes a Machine.
type Config struct {
	// Window is the history capacity N.
	Window int
	// MinConfidence is the per-frame confidence below which a frame votes NONE.
	MinConfidence float64
	// VoteThreshold is the agreement ratio a token needs to become stable.
	VoteThreshold float64
	// StableDuration is how long a token must stay stable before it commits.
	StableDuration time.Duration
	// Cooldown is the minimum gap between two commits of the same token.
	Cooldown time.Duration
}

// DefaultConfig returns the reference tuning.
func DefaultConfig() Config {
	return Config{
		Window:         DefaultWindow,
		MinConfidence:  DefaultMinConfidence,
		VoteThreshold:  DefaultVoteThreshold,
		StableDuration: DefaultStableDuration,
		Cooldown:       DefaultCooldown,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.Window < 1:
		return fmt.Errorf("window must be >= 1, got %d", c.Window)
	case c.MinConfidence < 0 || c.MinConfidence > 1:
		return fmt.Errorf("min_confidence must be in [0,1], got %f", c.MinConfidence)
	case c.VoteThreshold <= 0 || c.VoteThreshold > 1:
		return fmt.Errorf("vote_threshold must be in (0,1], got %f", c.VoteThreshold)
	case c.StableDuration < 0:
		return fmt.Errorf("stable duration must be >= 0, got %s", c.StableDuration)
	case c.Cooldown < 0:
		return fmt.Errorf("cooldown must be >= 0, got %s", c.Cooldown)
	}
	return nil
}

// Decision is the outcome of one Update. Token and Confidence echo the raw
// frame; the rest reflects the state machine.
type Decision struct {
	Token          classify.Token
	Confidence     float64
	StableToken    classify.Token
	AgreementRatio float64
	StableDuration time.Duration
	Commit         bool
}

// State is a read-only snapshot of a Machine.
type State struct {
	History            []classify.Result
	StableToken        classify.Token
	StableSince        time.Time
	LastCommittedToken classify.Token
	LastCommitAt       time.Time
	EpisodeCommitted   bool
}

// Machine is the per-session smoothing and commit state.
type Machine struct {
	cfg Config

	// ring buffer of votes; votes[i] already has low-confidence frames
	// rewritten to NONE.
	history []classify.Result
	votes   []classify.Token
	head    int
	size    int

	stableToken  classify.Token
	stableSince  time.Time
	episodeDone  bool
	lastToken    classify.Token
	lastCommitAt time.Time
	hasCommitted bool
}

// New creates a Machine. Invalid configs fall back to DefaultConfig values
// field by field.
func New(cfg Config) *Machine {
	def := DefaultConfig()
	if cfg.Window < 1 {
		cfg.Window = def.Window
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		cfg.MinConfidence = def.MinConfidence
	}
	if cfg.VoteThreshold <= 0 || cfg.VoteThreshold > 1 {
		cfg.VoteThreshold = def.VoteThreshold
	}
	if cfg.StableDuration < 0 {
		cfg.StableDuration = def.StableDuration
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = def.Cooldown
	}

	return &Machine{
		cfg:         cfg,
		history:     make([]classify.Result, cfg.Window),
		votes:       make([]classify.Token, cfg.Window),
		stableToken: classify.None,
		lastToken:   classify.None,
	}
}

// Config returns the effective configuration.
func (m *Machine) Config() Config {
	return m.cfg
}

// Update applies one frame's classification observed at now.
func (m *Machine) Update(r classify.Result, now time.Time) Decision {
	m.push(r)
	if m.stableSince.IsZero() {
		m.stableSince = now
	}

	majority, ratio := m.majority()

	switch {
	case ratio >= m.cfg.VoteThreshold:
		if majority != m.stableToken {
			m.startEpisode(majority, now)
		}
	case m.stableToken != classify.None:
		m.startEpisode(classify.None, now)
	default:
		// No consensus while already at NONE: the clock restarts.
		m.stableSince = now
	}

	stable := now.Sub(m.stableSince)
	if stable < 0 {
		stable = 0
	}

	commit := m.shouldCommit(stable, now)
	if commit {
		m.lastToken = m.stableToken
		m.lastCommitAt = now
		m.hasCommitted = true
		m.episodeDone = true
	}

	return Decision{
		Token:          r.Token,
		Confidence:     r.Confidence,
		StableToken:    m.stableToken,
		AgreementRatio: ratio,
		StableDuration: stable,
		Commit:         commit,
	}
}

func (m *Machine) shouldCommit(stable time.Duration, now time.Time) bool {
	if m.stableToken == classify.None || m.episodeDone {
		return false
	}
	if stable < m.cfg.StableDuration {
		return false
	}
	if !m.hasCommitted || m.stableToken != m.lastToken {
		return true
	}
	return now.Sub(m.lastCommitAt) >= m.cfg.Cooldown
}

func (m *Machine) startEpisode(token classify.Token, now time.Time) {
	m.stableToken = token
	m.stableSince = now
	m.episodeDone = false
}

func (m *Machine) push(r classify.Result) {
	vote := r.Token
	if vote == "" || r.Confidence < m.cfg.MinConfidence {
		vote = classify.None
	}

	idx := (m.head + m.size) % m.cfg.Window
	if m.size == m.cfg.Window {
		idx = m.head
		m.head = (m.head + 1) % m.cfg.Window
	} else {
		m.size++
	}
	m.history[idx] = r
	m.votes[idx] = vote
}

// majority returns the most common vote and its share of the window. Ties
// go to the token seen most recently.
func (m *Machine) majority() (classify.Token, float64) {
	if m.size == 0 {
		return classify.None, 0
	}

	counts := make(map[classify.Token]int, m.size)
	lastSeen := make(map[classify.Token]int, m.size)
	for i := 0; i < m.size; i++ {
		t := m.votes[(m.head+i)%m.cfg.Window]
		counts[t]++
		lastSeen[t] = i
	}

	best := classify.None
	bestCount := -1
	for t, c := range counts {
		if c > bestCount || (c == bestCount && lastSeen[t] > lastSeen[best]) {
			best = t
			bestCount = c
		}
	}

	return best, float64(bestCount) / float64(m.size)
}

// Snapshot returns a copy of the current state, history oldest first.
func (m *Machine) Snapshot() State {
	hist := make([]classify.Result, m.size)
	for i := 0; i < m.size; i++ {
		hist[i] = m.history[(m.head+i)%m.cfg.Window]
	}
	return State{
		History:            hist,
		StableToken:        m.stableToken,
		StableSince:        m.stableSince,
		LastCommittedToken: m.lastToken,
		LastCommitAt:       m.lastCommitAt,
		EpisodeCommitted:   m.episodeDone,
	}
}

// Reset clears all state, as if the Machine were new.
func (m *Machine) Reset() {
	*m = *New(m.cfg)
}
