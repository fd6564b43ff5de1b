// Package concat turns labeled sentence streams into fixed-length token
// windows for pretraining. Each sentence is tokenized, optionally
// prefixed with a sentinel label token chosen from its score, and
// appended to a rolling buffer that is drained into windows of exactly
// MaxLength ids.
package concat

import (
	"errors"
	"fmt"
)

var (
	// ErrShapeMismatch is returned when a sample's sentences and scores
	// have different lengths. Fatal for the whole run, never skipped.
	ErrShapeMismatch = errors.New("sentences and scores length mismatch")

	// ErrMaxLengthUnset is returned when concatenation is requested
	// without a window length.
	ErrMaxLengthUnset = errors.New("concatenation requires a window length")

	// ErrAmbiguousBoundary is returned when neither BOS nor EOS ids are
	// supplied and the tokenizer does not insert boundary tokens itself.
	// Without a separator, consecutive sequences would silently run
	// together in the training data.
	ErrAmbiguousBoundary = errors.New("no boundary tokens between sequences")
)

// EncodeFunc maps text to token ids with no truncation and no padding.
type EncodeFunc func(text string) []int32

// Sample is one input record: parallel sentence and score sequences.
type Sample struct {
	Sentences []string  `json:"sentences"`
	Scores    []float64 `json:"scores"`
}

// Config describes a Concatenator.
type Config struct {
	Encode    EncodeFunc
	Labeler   Labeler
	BOS       []int32 // prepended to every sentence, may be empty
	EOS       []int32 // appended to every sentence, may be empty
	MaxLength int
	NoWrap    bool // discard buffer remainder after emitting a window

	// AutoBoundary declares that Encode itself inserts boundary tokens,
	// making empty BOS and EOS acceptable.
	AutoBoundary bool
}

// Concatenator accumulates encoded sentences into a token buffer and
// slices it into windows. Not safe for concurrent use; one pass owns it.
type Concatenator struct {
	cfg    Config
	buffer []int32
}

// New validates cfg and returns a Concatenator with an empty buffer.
func New(cfg Config) (*Concatenator, error) {
	if cfg.Encode == nil {
		return nil, fmt.Errorf("concat: Encode is required")
	}
	if cfg.MaxLength <= 0 {
		return nil, ErrMaxLengthUnset
	}
	if len(cfg.BOS) == 0 && len(cfg.EOS) == 0 && !cfg.AutoBoundary {
		return nil, ErrAmbiguousBoundary
	}
	return &Concatenator{cfg: cfg}, nil
}

// Append processes one sample and returns the windows drained from the
// buffer afterwards. Each returned window has length cfg.MaxLength
// exactly and does not alias the internal buffer.
func (c *Concatenator) Append(sample Sample) ([][]int32, error) {
	if len(sample.Sentences) != len(sample.Scores) {
		return nil, fmt.Errorf(
			"%w: %d sentences, %d scores",
			ErrShapeMismatch, len(sample.Sentences), len(sample.Scores),
		)
	}

	for i, sentence := range sample.Sentences {
		ids := c.cfg.Encode(sentence)
		if c.cfg.Labeler != nil {
			if label := c.cfg.Labeler.Decide(sentence, sample.Scores[i]); len(label) > 0 {
				ids = append(label, ids...)
			}
		}
		c.buffer = append(c.buffer, c.cfg.BOS...)
		c.buffer = append(c.buffer, ids...)
		c.buffer = append(c.buffer, c.cfg.EOS...)
	}

	return c.drain(), nil
}

func (c *Concatenator) drain() [][]int32 {
	var windows [][]int32
	for len(c.buffer) >= c.cfg.MaxLength {
		window := make([]int32, c.cfg.MaxLength)
		copy(window, c.buffer[:c.cfg.MaxLength])
		windows = append(windows, window)
		if c.cfg.NoWrap {
			c.buffer = c.buffer[:0]
			break
		}
		c.buffer = c.buffer[c.cfg.MaxLength:]
	}
	return windows
}

// Pending reports how many ids sit in the buffer below the window
// length. At end of stream this tail is dropped, never emitted.
func (c *Concatenator) Pending() int {
	return len(c.buffer)
}
