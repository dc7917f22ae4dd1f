// Package consensus implements multi-agent ballots: creation, vote
// casting, and rule-based tallying.
package consensus

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/types"
)

// Rule selects how a ballot's winner is decided.
type Rule string

const (
	// SimpleMajority picks the winner only with strictly more than half
	// of the total weight.
	SimpleMajority Rule = "simple_majority"
	// Supermajority picks the winner only with at least 66% of the total
	// weight.
	Supermajority Rule = "supermajority"
	// Unanimous picks the winner only with all of the total weight.
	Unanimous Rule = "unanimous"
	// Weighted always picks the option with the greatest weighted count.
	Weighted Rule = "weighted"
)

var (
	// ErrVoteNotFound is returned for unknown vote ids.
	ErrVoteNotFound = errors.New("vote not found")
	// ErrVoteFinalized is returned when casting against a decided ballot.
	ErrVoteFinalized = errors.New("vote already finalized")
	// ErrInvalidOption is returned when the cast option is not on the ballot.
	ErrInvalidOption = errors.New("option not on ballot")
)

// Vote is one ballot. Votes maps agent id to the chosen option; Weights
// only matters under the Weighted rule.
type Vote struct {
	VoteID    string             `json:"vote_id"`
	Question  string             `json:"question"`
	Options   []string           `json:"options"`
	Rule      Rule               `json:"rule"`
	Deadline  int64              `json:"deadline"`
	Votes     map[string]string  `json:"votes"`
	Weights   map[string]float64 `json:"weights"`
	Result    string             `json:"result"`
	Finalized bool               `json:"finalized"`
}

// FinalizeFunc observes ballots as they are decided.
type FinalizeFunc func(voteID string, vote Vote)

// Voter owns the ballot set.
type Voter struct {
	votes      map[string]*Vote
	onFinalize FinalizeFunc
	mu         sync.Mutex
	logger     *zap.Logger
}

// NewVoter creates an empty ballot store.
func NewVoter(logger *zap.Logger) *Voter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Voter{
		votes:  make(map[string]*Vote),
		logger: logger.With(zap.String("component", "consensus_voter")),
	}
}

// SetFinalizeCallback installs the decided-ballot hook.
func (v *Voter) SetFinalizeCallback(fn FinalizeFunc) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onFinalize = fn
}

// Create opens a ballot and returns its id. deadlineMs of zero means no
// deadline; deadlines are advisory and enforced by callers.
func (v *Voter) Create(question string, options []string, rule Rule, deadlineMs int64) string {
	v.mu.Lock()
	defer v.mu.Unlock()

	vote := &Vote{
		VoteID:   types.NewID(),
		Question: question,
		Options:  append([]string(nil), options...),
		Rule:     rule,
		Deadline: deadlineMs,
		Votes:    make(map[string]string),
		Weights:  make(map[string]float64),
	}
	v.votes[vote.VoteID] = vote
	return vote.VoteID
}

// Cast records an agent's choice, overwriting any earlier cast by the
// same agent. It fails on unknown ballots, decided ballots, and options
// that were not listed at creation.
func (v *Voter) Cast(voteID, agentID, option string, weight float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	vote, ok := v.votes[voteID]
	if !ok {
		return ErrVoteNotFound
	}
	if vote.Finalized {
		return ErrVoteFinalized
	}
	if !containsOption(vote.Options, option) {
		return ErrInvalidOption
	}
	vote.Votes[agentID] = option
	vote.Weights[agentID] = weight
	return nil
}

// Get returns a copy of the ballot.
func (v *Voter) Get(voteID string) (Vote, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	vote, ok := v.votes[voteID]
	if !ok {
		return Vote{}, false
	}
	return cloneVote(vote), true
}

// IsFinalized reports whether the ballot has been decided.
func (v *Voter) IsFinalized(voteID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	vote, ok := v.votes[voteID]
	return ok && vote.Finalized
}

// Finalize tallies the ballot and irreversibly marks it decided. The
// denominator is the total cast weight; agents that never voted do not
// count against any threshold.
func (v *Voter) Finalize(voteID string) (Vote, error) {
	v.mu.Lock()
	vote, ok := v.votes[voteID]
	if !ok {
		v.mu.Unlock()
		return Vote{}, ErrVoteNotFound
	}
	if vote.Finalized {
		v.mu.Unlock()
		return Vote{}, ErrVoteFinalized
	}
	vote.Result = tally(vote)
	vote.Finalized = true
	decided := cloneVote(vote)
	callback := v.onFinalize
	v.mu.Unlock()

	v.logger.Info("vote finalized",
		zap.String("vote_id", voteID),
		zap.String("result", decided.Result))
	if callback != nil {
		callback(voteID, decided)
	}
	return decided, nil
}

// Votes returns a copy of every ballot.
func (v *Voter) Votes() []Vote {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Vote, 0, len(v.votes))
	for _, vote := range v.votes {
		out = append(out, cloneVote(vote))
	}
	return out
}

// tally computes the winner per the ballot's rule. The winner is the
// option with the greatest weighted count; ties break toward the
// lexicographically smallest option.
func tally(vote *Vote) string {
	if len(vote.Votes) == 0 {
		return ""
	}

	counts := make(map[string]float64)
	total := 0.0
	for agentID, option := range vote.Votes {
		weight := 1.0
		if vote.Rule == Weighted {
			if w, ok := vote.Weights[agentID]; ok {
				weight = w
			}
		}
		counts[option] += weight
		total += weight
	}

	options := make([]string, 0, len(counts))
	for option := range counts {
		options = append(options, option)
	}
	sort.Strings(options)

	winner := ""
	max := 0.0
	for _, option := range options {
		if counts[option] > max {
			max = counts[option]
			winner = option
		}
	}

	percentage := 0.0
	if total > 0 {
		percentage = max / total
	}

	switch vote.Rule {
	case SimpleMajority:
		if percentage > 0.5 {
			return winner
		}
		return ""
	case Supermajority:
		if percentage >= 0.66 {
			return winner
		}
		return ""
	case Unanimous:
		if percentage >= 1.0 {
			return winner
		}
		return ""
	case Weighted:
		return winner
	}
	return winner
}

func containsOption(options []string, option string) bool {
	for _, o := range options {
		if o == option {
			return true
		}
	}
	return false
}

func cloneVote(vote *Vote) Vote {
	copied := *vote
	copied.Options = append([]string(nil), vote.Options...)
	copied.Votes = make(map[string]string, len(vote.Votes))
	for k, val := range vote.Votes {
		copied.Votes[k] = val
	}
	copied.Weights = make(map[string]float64, len(vote.Weights))
	for k, val := range vote.Weights {
		copied.Weights[k] = val
	}
	return copied
}
