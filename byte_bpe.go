package byte_bpe

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru"
	"github.com/wbrown/byte_bpe/types"
)

// ByteTokens is the size of the reserved id range; every id below it
// decodes to the single byte of the same value.
const ByteTokens = 256

// ModelVersion is the version tag written as the first line of every
// model file. Load rejects files carrying any other tag.
const ModelVersion = "bpe v1.0"

const SEGMENT_LRU_SZ = 65536
const reportInterval = 10 * time.Second

var (
	ErrInvalidVocabSize = errors.New("vocab size must be at least 256")
	ErrUnknownToken     = errors.New("unknown token id")
	ErrSpecialCollision = errors.New("special token id collides with an existing token")
	ErrModelFormat      = errors.New("model version mismatch")
	ErrModelParse       = errors.New("malformed model file")
)

// Tokenizer is a trainable byte-level BPE tokenizer. It owns its
// merge table, derived vocabulary, opaque split pattern, and special
// token table; Train, Load and SetSpecialTokens replace that state
// wholesale, everything else only reads it. A Tokenizer is safe for
// concurrent Encode/Decode once training or loading has completed.
type Tokenizer struct {
	merges   []types.TokenPair
	mergeIds map[types.TokenPair]types.Token
	vocab    map[types.Token][]byte
	pattern  string
	specials map[string]types.Token
	cache    *lru.ARCCache

	// Verbose enables period-gated merge progress logging during
	// training.
	Verbose   bool
	LruHits   int
	LruMisses int
}

// NewTokenizer returns an untrained tokenizer whose vocabulary holds
// only the 256 byte tokens.
func NewTokenizer() *Tokenizer {
	cache, _ := lru.NewARC(SEGMENT_LRU_SZ)
	return &Tokenizer{
		merges:   make([]types.TokenPair, 0),
		mergeIds: make(map[types.TokenPair]types.Token),
		vocab:    buildVocab(nil, nil),
		specials: make(map[string]types.Token),
		cache:    cache,
	}
}

// Train learns vocabSize - 256 merges from text, replacing any
// previously learned state. The k-th merge is assigned id 256+k.
// Training stops early if the working sequence runs out of adjacent
// pairs before the requested vocabulary size is reached; the merges
// learned up to that point remain valid. If a previously set special
// token id falls inside the new merge range, Train returns
// ErrSpecialCollision and leaves the tokenizer untouched.
func (tokenizer *Tokenizer) Train(text string, vocabSize int) error {
	if vocabSize < ByteTokens {
		return fmt.Errorf("%w: %d", ErrInvalidVocabSize, vocabSize)
	}
	numMerges := vocabSize - ByteTokens

	ids := byteTokens(text)
	merges := make([]types.TokenPair, 0, numMerges)
	mergeIds := make(map[types.TokenPair]types.Token, numMerges)
	vocab := buildVocab(nil, nil)

	stats := newPairStats()
	lastReport := time.Now()
	for step := 0; step < numMerges; step++ {
		stats.reset()
		stats.countInto(ids)
		pair, ok := stats.maxPair()
		if !ok {
			if tokenizer.Verbose {
				log.Printf("Stopped at merge %d/%d: no pairs left "+
					"to merge.", step, numMerges)
			}
			break
		}
		newId := types.Token(ByteTokens + step)
		merges = append(merges, pair)
		mergeIds[pair] = newId
		ids = mergePair(ids, pair, newId)
		vocab[newId] = concatTokenBytes(vocab[pair.Left],
			vocab[pair.Right])
		if tokenizer.Verbose &&
			time.Since(lastReport) > reportInterval {
			lastReport = time.Now()
			log.Printf("Merge %s/%s: (%d, %d) -> %d had %s "+
				"occurrences, %s ids remaining.",
				humanize.Comma(int64(step+1)),
				humanize.Comma(int64(numMerges)),
				pair.Left, pair.Right, newId,
				humanize.Comma(int64(stats.counts[pair])),
				humanize.Comma(int64(len(ids))))
		}
	}
	if err := validateSpecials(tokenizer.specials,
		len(merges)); err != nil {
		return err
	}
	for name, id := range tokenizer.specials {
		vocab[id] = []byte(name)
	}

	tokenizer.merges = merges
	tokenizer.mergeIds = mergeIds
	tokenizer.vocab = vocab
	tokenizer.cache.Purge()
	return nil
}

// Encode converts text into token ids by replaying the learned
// merges: at each step the pair present in the sequence with the
// lowest merge rank is folded, until no pair in the sequence remains
// in the merge table. Applying merges in rank order rather than by
// frequency reproduces the segmentation training arrived at.
func (tokenizer *Tokenizer) Encode(text string) types.Tokens {
	ids := byteTokens(text)
	for len(ids) >= 2 {
		pair, newId, ok := tokenizer.lowestRankPair(ids)
		if !ok {
			break
		}
		ids = mergePair(ids, pair, newId)
	}
	return ids
}

// lowestRankPair scans the adjacent pairs of ids for the one with
// the earliest-learned merge. Merge ids increase with rank, so the
// smallest id is the earliest merge.
func (tokenizer *Tokenizer) lowestRankPair(ids types.Tokens) (
	best types.TokenPair, bestId types.Token, ok bool) {
	for idx := 0; idx+1 < len(ids); idx++ {
		pair := types.TokenPair{Left: ids[idx], Right: ids[idx+1]}
		if newId, present := tokenizer.mergeIds[pair]; present {
			if !ok || newId < bestId {
				best = pair
				bestId = newId
				ok = true
			}
		}
	}
	return best, bestId, ok
}

// EncodeSegments encodes pre-split text segments and concatenates
// the results. The core is segment-agnostic, so an external
// splitting layer can hand segments here one pattern match at a
// time. Per-segment results are kept in an ARC cache, as segment
// distributions are heavily skewed in practice.
func (tokenizer *Tokenizer) EncodeSegments(
	segments []string) types.Tokens {
	encoded := make(types.Tokens, 0, len(segments))
	for _, segment := range segments {
		if lookup, ok := tokenizer.cache.Get(segment); ok {
			tokenizer.LruHits++
			encoded = append(encoded, lookup.(types.Tokens)...)
			continue
		}
		tokenizer.LruMisses++
		tokens := tokenizer.Encode(segment)
		tokenizer.cache.Add(segment, tokens)
		encoded = append(encoded, tokens...)
	}
	return encoded
}

// Decode converts token ids back into text by concatenating each
// id's byte-string. An id absent from the vocabulary returns
// ErrUnknownToken. Each byte that does not form valid UTF-8 is
// replaced with the replacement character rather than failing; ids
// produced by Encode on valid text never take that path.
func (tokenizer *Tokenizer) Decode(ids types.Tokens) (string, error) {
	decoded := make([]byte, 0, len(ids))
	for _, id := range ids {
		tokenBytes, ok := tokenizer.vocab[id]
		if !ok {
			return "", fmt.Errorf("%w: %d", ErrUnknownToken, id)
		}
		decoded = append(decoded, tokenBytes...)
	}

	var repaired strings.Builder
	repaired.Grow(len(decoded))
	for idx := 0; idx < len(decoded); {
		r, size := utf8.DecodeRune(decoded[idx:])
		if r == utf8.RuneError && size == 1 {
			repaired.WriteRune(utf8.RuneError)
			idx++
			continue
		}
		repaired.Write(decoded[idx : idx+size])
		idx += size
	}
	return repaired.String(), nil
}

// SetSpecialTokens replaces the special token table and rebuilds the
// vocabulary. Ids that collide with the byte range or with a learned
// merge id are rejected, as are duplicate ids within the table; the
// dense merge-derived range and the specials must stay disjoint for
// the vocabulary to remain derivable.
func (tokenizer *Tokenizer) SetSpecialTokens(
	specials map[string]types.Token) error {
	if err := validateSpecials(specials,
		len(tokenizer.merges)); err != nil {
		return err
	}
	tokenizer.specials = make(map[string]types.Token, len(specials))
	for name, id := range specials {
		tokenizer.specials[name] = id
	}
	tokenizer.vocab = buildVocab(tokenizer.merges, tokenizer.specials)
	tokenizer.cache.Purge()
	return nil
}

func validateSpecials(specials map[string]types.Token,
	numMerges int) error {
	seen := make(map[types.Token]string, len(specials))
	for name, id := range specials {
		if id < types.Token(ByteTokens+numMerges) {
			return fmt.Errorf("%w: %q has id %d", ErrSpecialCollision,
				name, id)
		}
		if other, dup := seen[id]; dup {
			return fmt.Errorf("%w: %q and %q share id %d",
				ErrSpecialCollision, name, other, id)
		}
		seen[id] = name
	}
	return nil
}

// SpecialTokens returns a copy of the special token table.
func (tokenizer *Tokenizer) SpecialTokens() map[string]types.Token {
	specials := make(map[string]types.Token, len(tokenizer.specials))
	for name, id := range tokenizer.specials {
		specials[name] = id
	}
	return specials
}

// Merges returns a copy of the merge table in rank order.
func (tokenizer *Tokenizer) Merges() []types.TokenPair {
	merges := make([]types.TokenPair, len(tokenizer.merges))
	copy(merges, tokenizer.merges)
	return merges
}

// MergeId returns the id a pair merges into, if the pair was
// learned.
func (tokenizer *Tokenizer) MergeId(pair types.TokenPair) (
	types.Token, bool) {
	id, ok := tokenizer.mergeIds[pair]
	return id, ok
}

// Pattern returns the opaque split pattern carried through
// persistence for an external splitting layer. The core never
// interprets it.
func (tokenizer *Tokenizer) Pattern() string {
	return tokenizer.pattern
}

func (tokenizer *Tokenizer) SetPattern(pattern string) {
	tokenizer.pattern = pattern
}

// VocabSize returns the total number of vocabulary entries,
// including byte tokens and specials.
func (tokenizer *Tokenizer) VocabSize() int {
	return len(tokenizer.vocab)
}

// TokenBytes returns the byte-string a token id decodes to.
func (tokenizer *Tokenizer) TokenBytes(id types.Token) ([]byte, bool) {
	tokenBytes, ok := tokenizer.vocab[id]
	return tokenBytes, ok
}

// RenderToken returns the escaped human-readable form of a token,
// as used in the vocabulary listing.
func (tokenizer *Tokenizer) RenderToken(id types.Token) (string, error) {
	tokenBytes, ok := tokenizer.vocab[id]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownToken, id)
	}
	return renderToken(tokenBytes), nil
}
