// Package tokenizer implements a byte-level BPE tokenizer compatible with
// GPT-2 style vocabulary exports (vocab.json + merges.txt), plus the
// special-token bookkeeping needed to register sentinel label tokens and
// save the augmented configuration back to disk.
package tokenizer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

type mergePair struct {
	left  string
	right string
}

// Tokenizer holds immutable vocabulary data plus the mutable set of
// registered special tokens. Encode is safe for concurrent use as long
// as AddSpecialTokens is not called concurrently.
type Tokenizer struct {
	vocab  map[string]int32
	ranks  map[mergePair]int
	nextID int32

	specials     map[string]int32
	specialOrder []string

	bosToken string
	eosToken string
	addBOS   bool
	addEOS   bool

	dropped atomic.Int64
}

type specialConfig struct {
	BOSToken                string   `json:"bos_token,omitempty"`
	EOSToken                string   `json:"eos_token,omitempty"`
	AddBOSToken             bool     `json:"add_bos_token"`
	AddEOSToken             bool     `json:"add_eos_token"`
	AdditionalSpecialTokens []string `json:"additional_special_tokens,omitempty"`
}

// Load reads a tokenizer directory containing vocab.json, merges.txt and
// an optional special_tokens.json.
func Load(dir string) (*Tokenizer, error) {
	vocabBytes, err := os.ReadFile(filepath.Join(dir, "vocab.json"))
	if err != nil {
		return nil, fmt.Errorf("reading vocab.json: %w", err)
	}
	var vocab map[string]int32
	if err := json.Unmarshal(vocabBytes, &vocab); err != nil {
		return nil, fmt.Errorf("unmarshalling vocab.json: %w", err)
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("vocab.json in %s is empty", dir)
	}

	var maxID int32 = -1
	for _, id := range vocab {
		if id < 0 {
			return nil, fmt.Errorf("negative token id %d in vocab", id)
		}
		if id > maxID {
			maxID = id
		}
	}

	ranks, err := loadMerges(filepath.Join(dir, "merges.txt"))
	if err != nil {
		return nil, fmt.Errorf("loading merges: %w", err)
	}

	t := &Tokenizer{
		vocab:    vocab,
		ranks:    ranks,
		nextID:   maxID + 1,
		specials: make(map[string]int32),
	}

	cfgPath := filepath.Join(dir, "special_tokens.json")
	if cfgBytes, err := os.ReadFile(cfgPath); err == nil {
		var cfg specialConfig
		if err := json.Unmarshal(cfgBytes, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshalling special_tokens.json: %w", err)
		}
		t.bosToken = cfg.BOSToken
		t.eosToken = cfg.EOSToken
		t.addBOS = cfg.AddBOSToken
		t.addEOS = cfg.AddEOSToken
		t.AddSpecialTokens(cfg.AdditionalSpecialTokens)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading special_tokens.json: %w", err)
	}

	return t, nil
}

func loadMerges(path string) (map[mergePair]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ranks := make(map[mergePair]int)
	var (
		scanner = bufio.NewScanner(f)
		rank    int
	)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		left, right, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("malformed merge line %q", line)
		}
		ranks[mergePair{left, right}] = rank
		rank++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning merges: %w", err)
	}
	return ranks, nil
}

// VocabSize returns the number of entries in the base vocabulary, not
// counting registered special tokens.
func (t *Tokenizer) VocabSize() int {
	return len(t.vocab)
}

// TokenID looks up the id of a literal vocabulary entry or special token.
func (t *Tokenizer) TokenID(tok string) (int32, bool) {
	if id, ok := t.specials[tok]; ok {
		return id, true
	}
	id, ok := t.vocab[tok]
	return id, ok
}

// AddSpecialTokens registers the given tokens as literal specials, assigning
// ids past the end of the vocabulary. Already-registered tokens keep their
// id. Returns the ids in argument order.
func (t *Tokenizer) AddSpecialTokens(names []string) []int32 {
	ids := make([]int32, 0, len(names))
	for _, name := range names {
		if id, ok := t.specials[name]; ok {
			ids = append(ids, id)
			continue
		}
		id := t.nextID
		t.nextID++
		t.specials[name] = id
		t.specialOrder = append(t.specialOrder, name)
		ids = append(ids, id)
	}
	return ids
}

// SpecialTokens returns registered special tokens in registration order.
func (t *Tokenizer) SpecialTokens() []string {
	return append([]string(nil), t.specialOrder...)
}

// InsertsBoundaryTokens probes whether encoding plain text yields a leading
// BOS or trailing EOS token without the caller asking for one. Used to
// decide whether concatenated sequences get any separator at all.
func (t *Tokenizer) InsertsBoundaryTokens() bool {
	ids := t.Encode("test")
	if len(ids) == 0 {
		return false
	}
	if bos, ok := t.TokenID(t.bosToken); ok && t.bosToken != "" && ids[0] == bos {
		return true
	}
	if eos, ok := t.TokenID(t.eosToken); ok && t.eosToken != "" && ids[len(ids)-1] == eos {
		return true
	}
	return false
}

// Encode tokenizes text into vocabulary ids. No truncation, no padding.
// Registered special tokens are matched literally and never split.
func (t *Tokenizer) Encode(text string) []int32 {
	var ids []int32
	if t.addBOS && t.bosToken != "" {
		if id, ok := t.TokenID(t.bosToken); ok {
			ids = append(ids, id)
		}
	}
	for _, seg := range t.splitSpecials(text) {
		if id, ok := t.specials[seg]; ok {
			ids = append(ids, id)
			continue
		}
		for _, word := range pretokenize(seg) {
			ids = append(ids, t.encodeWord(word)...)
		}
	}
	if t.addEOS && t.eosToken != "" {
		if id, ok := t.TokenID(t.eosToken); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// splitSpecials slices text into alternating plain segments and literal
// special tokens, earliest match first.
func (t *Tokenizer) splitSpecials(text string) []string {
	if len(t.specials) == 0 {
		return []string{text}
	}
	var segs []string
	for text != "" {
		matchIdx, matchTok := -1, ""
		for tok := range t.specials {
			idx := strings.Index(text, tok)
			if idx < 0 {
				continue
			}
			if matchIdx < 0 || idx < matchIdx || (idx == matchIdx && len(tok) > len(matchTok)) {
				matchIdx, matchTok = idx, tok
			}
		}
		if matchIdx < 0 {
			segs = append(segs, text)
			break
		}
		if matchIdx > 0 {
			segs = append(segs, text[:matchIdx])
		}
		segs = append(segs, matchTok)
		text = text[matchIdx+len(matchTok):]
	}
	return segs
}

// pretokenize splits a segment into words, attaching a single leading
// space to the word that follows it.
func pretokenize(seg string) []string {
	var (
		words   []string
		current strings.Builder
	)
	for _, r := range seg {
		if r == ' ' {
			if current.Len() > 0 {
				words = append(words, current.String())
				current.Reset()
			}
			current.WriteRune(r)
			continue
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		words = append(words, current.String())
	}
	return words
}

func (t *Tokenizer) encodeWord(word string) []int32 {
	symbols := byteLevelSymbols(word)

	for len(symbols) > 1 {
		bestRank, bestIdx := -1, -1
		for i := 0; i < len(symbols)-1; i++ {
			rank, ok := t.ranks[mergePair{symbols[i], symbols[i+1]}]
			if !ok {
				continue
			}
			if bestRank < 0 || rank < bestRank {
				bestRank, bestIdx = rank, i
			}
		}
		if bestIdx < 0 {
			break
		}
		merged := symbols[bestIdx] + symbols[bestIdx+1]
		symbols = append(symbols[:bestIdx+1], symbols[bestIdx+2:]...)
		symbols[bestIdx] = merged
	}

	ids := make([]int32, 0, len(symbols))
	for _, sym := range symbols {
		if id, ok := t.vocab[sym]; ok {
			ids = append(ids, id)
			continue
		}
		// Unmergeable symbol that is itself absent from the vocab. Fall
		// back to its individual byte-level entries; anything the vocab
		// still lacks is counted so callers can refuse the output.
		for _, r := range sym {
			if id, ok := t.vocab[string(r)]; ok {
				ids = append(ids, id)
				continue
			}
			t.dropped.Add(1)
		}
	}
	return ids
}

// DroppedBytes reports how many input bytes Encode has discarded because
// the vocabulary holds no byte-level entry for them. A complete GPT-2
// style byte vocab never drops anything; a nonzero count means encoded
// output is missing data and should not be trusted.
func (t *Tokenizer) DroppedBytes() int64 {
	return t.dropped.Load()
}

// Save writes vocab.json, merges.txt and special_tokens.json to dir,
// including any special tokens registered since loading.
func (t *Tokenizer) Save(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating tokenizer directory: %w", err)
	}

	vocabBytes, err := json.Marshal(t.vocab)
	if err != nil {
		return fmt.Errorf("marshalling vocab: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "vocab.json"), vocabBytes, 0644); err != nil {
		return fmt.Errorf("writing vocab.json: %w", err)
	}

	merges := make([]string, len(t.ranks))
	for pair, rank := range t.ranks {
		merges[rank] = pair.left + " " + pair.right
	}
	var builder strings.Builder
	builder.WriteString("#version: 0.2\n")
	for _, m := range merges {
		builder.WriteString(m)
		builder.WriteByte('\n')
	}
	if err := os.WriteFile(filepath.Join(dir, "merges.txt"), []byte(builder.String()), 0644); err != nil {
		return fmt.Errorf("writing merges.txt: %w", err)
	}

	cfg := specialConfig{
		BOSToken:                t.bosToken,
		EOSToken:                t.eosToken,
		AddBOSToken:             t.addBOS,
		AddEOSToken:             t.addEOS,
		AdditionalSpecialTokens: t.specialOrder,
	}
	cfgBytes, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling special tokens config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "special_tokens.json"), cfgBytes, 0644); err != nil {
		return fmt.Errorf("writing special_tokens.json: %w", err)
	}

	return nil
}

// byteLevelSymbols maps each byte of word to its printable stand-in rune,
// one symbol per byte.
func byteLevelSymbols(word string) []string {
	symbols := make([]string, 0, len(word))
	for i := 0; i < len(word); i++ {
		symbols = append(symbols, string(byteEncoder[word[i]]))
	}
	return symbols
}

// byteEncoder maps every raw byte to the printable rune GPT-2 style
// exports use to keep vocab.json valid text. Bytes that are already
// printable map to themselves, the rest get stand-ins from 256 upward.
var byteEncoder = buildByteEncoder()

func buildByteEncoder() [256]rune {
	var printable [256]bool
	for b := 33; b <= 126; b++ {
		printable[b] = true
	}
	for b := 161; b <= 172; b++ {
		printable[b] = true
	}
	for b := 174; b <= 255; b++ {
		printable[b] = true
	}

	var (
		enc  [256]rune
		next rune = 256
	)
	for b := 0; b < 256; b++ {
		if printable[b] {
			enc[b] = rune(b)
			continue
		}
		enc[b] = next
		next++
	}
	return enc
}
