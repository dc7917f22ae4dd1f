package types

import (
	"os"

	"github.com/pkoukk/tiktoken-go"
)

// turnOverhead approximates the framing cost (role label, separators) that
// each conversation turn adds on top of its content.
const turnOverhead = 10

// Estimator counts tokens for context budgeting. It is an approximation
// used only to decide what fits in a reconstruction budget, never for
// actual tokenization.
type Estimator interface {
	// EstimateTokens counts tokens in a text string.
	EstimateTokens(text string) int
	// EstimateFileTokens counts tokens in a file's content. Unreadable
	// files count as zero.
	EstimateFileTokens(path string) int
	// EstimateTurnTokens counts tokens for a role-labeled turn, including
	// framing overhead.
	EstimateTurnTokens(role, content string) int
}

// LinearEstimator is the default estimator: roughly four characters per
// token for English text.
type LinearEstimator struct{}

// NewLinearEstimator creates the default character-based estimator.
func NewLinearEstimator() LinearEstimator {
	return LinearEstimator{}
}

// EstimateTokens counts tokens in text.
func (LinearEstimator) EstimateTokens(text string) int {
	return len(text) / 4
}

// EstimateFileTokens counts tokens in a file's content.
func (e LinearEstimator) EstimateFileTokens(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	return e.EstimateTokens(string(data))
}

// EstimateTurnTokens counts tokens for a turn.
func (e LinearEstimator) EstimateTurnTokens(role, content string) int {
	return e.EstimateTokens(content) + e.EstimateTokens(role) + turnOverhead
}

// TiktokenEstimator counts with a real BPE vocabulary. Budgeting stays an
// estimate either way; this variant just tracks real model tokenizers more
// closely when the encoding is available locally.
type TiktokenEstimator struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenEstimator creates an estimator backed by the named encoding
// (e.g. "cl100k_base"). Falls back to nil error handling at call sites:
// construction fails if the encoding cannot be loaded.
func NewTiktokenEstimator(encoding string) (*TiktokenEstimator, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &TiktokenEstimator{enc: enc}, nil
}

// EstimateTokens counts tokens in text.
func (t *TiktokenEstimator) EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

// EstimateFileTokens counts tokens in a file's content.
func (t *TiktokenEstimator) EstimateFileTokens(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	return t.EstimateTokens(string(data))
}

// EstimateTurnTokens counts tokens for a turn.
func (t *TiktokenEstimator) EstimateTurnTokens(role, content string) int {
	return t.EstimateTokens(content) + t.EstimateTokens(role) + turnOverhead
}
