package byte_bpe

import (
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/byte_bpe/types"
)

var corpus string
var corpusTokenizer *Tokenizer

const corpusVocabSize = 512

func handleRead(path string) []byte {
	textBytes, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Error opening `%s`: %v", path, err)
	}
	return textBytes
}

func init() {
	corpus = string(handleRead("testdata/corpus.txt"))
	corpusTokenizer = NewTokenizer()
	if err := corpusTokenizer.Train(corpus, corpusVocabSize); err != nil {
		log.Fatalf("Error training on corpus: %v", err)
	}
}

func TestTokenizer_TrainBasic(t *testing.T) {
	tokenizer := NewTokenizer()
	require.NoError(t, tokenizer.Train("aaabdaaabac", 256+3))

	assert.Equal(t, []types.TokenPair{
		pair(97, 97),  // 256 = "aa"
		pair(256, 97), // 257 = "aaa"
		pair(257, 98), // 258 = "aaab"
	}, tokenizer.Merges())

	encoded := tokenizer.Encode("aaabdaaabac")
	assert.Equal(t, types.Tokens{258, 100, 258, 97, 99}, encoded)

	decoded, err := tokenizer.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, "aaabdaaabac", decoded)
}

func TestTokenizer_TrainInvalidVocabSize(t *testing.T) {
	tokenizer := NewTokenizer()
	err := tokenizer.Train("some text", 255)
	assert.ErrorIs(t, err, ErrInvalidVocabSize)

	// 256 is valid and learns nothing.
	require.NoError(t, tokenizer.Train("some text", 256))
	assert.Empty(t, tokenizer.Merges())
}

func TestTokenizer_TrainDeterminism(t *testing.T) {
	first := NewTokenizer()
	second := NewTokenizer()
	require.NoError(t, first.Train(corpus, corpusVocabSize))
	require.NoError(t, second.Train(corpus, corpusVocabSize))
	assert.Equal(t, first.Merges(), second.Merges())
}

func TestTokenizer_TrainEarlyTermination(t *testing.T) {
	tokenizer := NewTokenizer()
	// "ab" supports exactly one merge; the remaining 43 requested
	// steps have nothing left to fold.
	require.NoError(t, tokenizer.Train("ab", 300))
	assert.Equal(t, []types.TokenPair{pair(97, 98)},
		tokenizer.Merges())
	assert.Equal(t, types.Tokens{256}, tokenizer.Encode("ab"))

	require.NoError(t, tokenizer.Train("a", 300))
	assert.Empty(t, tokenizer.Merges())

	require.NoError(t, tokenizer.Train("", 300))
	assert.Empty(t, tokenizer.Merges())
}

func TestTokenizer_TrainReplacesState(t *testing.T) {
	tokenizer := NewTokenizer()
	require.NoError(t, tokenizer.Train("aaabdaaabac", 256+3))
	require.NoError(t, tokenizer.Train("xyxyxy", 256+1))
	assert.Equal(t, []types.TokenPair{pair(120, 121)},
		tokenizer.Merges())
	_, ok := tokenizer.MergeId(pair(97, 97))
	assert.False(t, ok)
}

func TestTokenizer_MergeIdsMonotonic(t *testing.T) {
	merges := corpusTokenizer.Merges()
	assert.Len(t, merges, corpusVocabSize-256)
	for rank, mergedPair := range merges {
		id, ok := corpusTokenizer.MergeId(mergedPair)
		require.True(t, ok)
		assert.Equal(t, types.Token(256+rank), id)
	}
}

func TestTokenizer_VocabDerivability(t *testing.T) {
	rebuilt := buildVocab(corpusTokenizer.Merges(),
		corpusTokenizer.SpecialTokens())
	assert.Equal(t, rebuilt, corpusTokenizer.vocab)
}

var roundTripTests = []string{
	"",
	"a",
	"hello world",
	"the lighthouse keeper kept his ledger",
	"Его сестра писала о городе.",
	"灯台は岬に立っていた。",
	"mixed: русский, 日本語, English, 123!\n\ttabs and newlines\n",
	"\x00\x01\x02 control bytes",
}

func TestTokenizer_RoundTrip(t *testing.T) {
	for _, text := range roundTripTests {
		encoded := corpusTokenizer.Encode(text)
		decoded, err := corpusTokenizer.Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, text, decoded)
	}
	encoded := corpusTokenizer.Encode(corpus)
	assert.Less(t, len(encoded), len(corpus))
	decoded, err := corpusTokenizer.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, corpus, decoded)
}

func TestTokenizer_EncodeUntrained(t *testing.T) {
	tokenizer := NewTokenizer()
	// With no merges, encoding is the identity on bytes.
	assert.Equal(t, types.Tokens{104, 105}, tokenizer.Encode("hi"))
}

func TestTokenizer_EncodeEmpty(t *testing.T) {
	assert.Empty(t, corpusTokenizer.Encode(""))
	decoded, err := corpusTokenizer.Decode(types.Tokens{})
	require.NoError(t, err)
	assert.Equal(t, "", decoded)
}

func TestTokenizer_DecodeUnknownToken(t *testing.T) {
	tokenizer := NewTokenizer()
	_, err := tokenizer.Decode(types.Tokens{42, 300})
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestTokenizer_DecodeInvalidBytes(t *testing.T) {
	tokenizer := NewTokenizer()

	// Each invalid byte becomes its own replacement character.
	decoded, err := tokenizer.Decode(types.Tokens{255, 254})
	require.NoError(t, err)
	assert.Equal(t, "��", decoded)

	decoded, err = tokenizer.Decode(types.Tokens{104, 105, 255})
	require.NoError(t, err)
	assert.Equal(t, "hi�", decoded)

	// A multi-byte rune split across ids reassembles cleanly.
	decoded, err = tokenizer.Decode(types.Tokens{0xc3, 0xa9})
	require.NoError(t, err)
	assert.Equal(t, "é", decoded)
}

func TestTokenizer_EncodeSegments(t *testing.T) {
	tokenizer := NewTokenizer()
	require.NoError(t, tokenizer.Train("aaabdaaabac", 256+3))

	segments := []string{"aaab", "d", "aaab", "a", "c"}
	encoded := tokenizer.EncodeSegments(segments)
	assert.Equal(t, types.Tokens{258, 100, 258, 97, 99}, encoded)

	// "aaab" repeats, so the second occurrence is a cache hit; a
	// second pass over the same segments hits entirely.
	assert.Equal(t, 1, tokenizer.LruHits)
	assert.Equal(t, 4, tokenizer.LruMisses)
	tokenizer.EncodeSegments(segments)
	assert.Equal(t, 6, tokenizer.LruHits)
	assert.Equal(t, 4, tokenizer.LruMisses)
}

func TestTokenizer_SetSpecialTokens(t *testing.T) {
	tokenizer := NewTokenizer()
	require.NoError(t, tokenizer.Train("aaabdaaabac", 256+3))

	specials := map[string]types.Token{"<|endoftext|>": 300}
	require.NoError(t, tokenizer.SetSpecialTokens(specials))
	assert.Equal(t, specials, tokenizer.SpecialTokens())
	tokenBytes, ok := tokenizer.TokenBytes(300)
	require.True(t, ok)
	assert.Equal(t, []byte("<|endoftext|>"), tokenBytes)
}

func TestTokenizer_SetSpecialTokensCollisions(t *testing.T) {
	tokenizer := NewTokenizer()
	require.NoError(t, tokenizer.Train("aaabdaaabac", 256+3))

	// Byte range collision.
	err := tokenizer.SetSpecialTokens(
		map[string]types.Token{"<|pad|>": 10})
	assert.ErrorIs(t, err, ErrSpecialCollision)

	// Merge-derived range collision: ids 256..258 are taken.
	err = tokenizer.SetSpecialTokens(
		map[string]types.Token{"<|pad|>": 257})
	assert.ErrorIs(t, err, ErrSpecialCollision)

	// Duplicate ids within the table.
	err = tokenizer.SetSpecialTokens(map[string]types.Token{
		"<|pad|>": 300,
		"<|eos|>": 300,
	})
	assert.ErrorIs(t, err, ErrSpecialCollision)

	// A rejected table leaves the prior specials untouched.
	assert.Empty(t, tokenizer.SpecialTokens())

	// First id past the merge range is fine.
	err = tokenizer.SetSpecialTokens(
		map[string]types.Token{"<|pad|>": 259})
	assert.NoError(t, err)
}

func TestTokenizer_TrainRejectsShadowedSpecial(t *testing.T) {
	// An id that is valid against an empty merge table can still be
	// claimed by a later training run; Train must refuse rather than
	// let the special shadow the merge.
	tokenizer := NewTokenizer()
	require.NoError(t, tokenizer.SetSpecialTokens(
		map[string]types.Token{"<|x|>": 256}))

	err := tokenizer.Train("aaabdaaabac", 256+3)
	assert.ErrorIs(t, err, ErrSpecialCollision)

	// The failed train leaves the tokenizer untouched: no merges, and
	// byte-level round-trips still hold.
	assert.Empty(t, tokenizer.Merges())
	decoded, err := tokenizer.Decode(tokenizer.Encode("aa"))
	require.NoError(t, err)
	assert.Equal(t, "aa", decoded)

	// A special clear of the merge range does not block training.
	tokenizer = NewTokenizer()
	require.NoError(t, tokenizer.SetSpecialTokens(
		map[string]types.Token{"<|x|>": 300}))
	require.NoError(t, tokenizer.Train("aaabdaaabac", 256+3))
	decoded, err = tokenizer.Decode(tokenizer.Encode("aa"))
	require.NoError(t, err)
	assert.Equal(t, "aa", decoded)
}

func TestTokenizer_RenderToken(t *testing.T) {
	tokenizer := NewTokenizer()
	require.NoError(t, tokenizer.Train("aaabdaaabac", 256+3))

	rendered, err := tokenizer.RenderToken(258)
	require.NoError(t, err)
	assert.Equal(t, "aaab", rendered)

	rendered, err = tokenizer.RenderToken(10)
	require.NoError(t, err)
	assert.Equal(t, `\u000a`, rendered)

	_, err = tokenizer.RenderToken(9999)
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestTokenizer_VocabSize(t *testing.T) {
	tokenizer := NewTokenizer()
	assert.Equal(t, 256, tokenizer.VocabSize())
	require.NoError(t, tokenizer.Train("aaabdaaabac", 256+3))
	assert.Equal(t, 259, tokenizer.VocabSize())
	require.NoError(t, tokenizer.SetSpecialTokens(
		map[string]types.Token{"<|endoftext|>": 259}))
	assert.Equal(t, 260, tokenizer.VocabSize())
}
