package byte_bpe

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/wbrown/byte_bpe/types"
)

// buildVocab derives the id to byte-string table from the merge
// table and the special token table. Ids below ByteTokens map to
// their single byte; each merge entry, taken in rank order,
// concatenates the byte-strings of its children, which the
// strictly-increasing id invariant guarantees are already present.
// Special tokens overlay their UTF-8 names last.
func buildVocab(merges []types.TokenPair,
	specials map[string]types.Token) map[types.Token][]byte {
	vocab := make(map[types.Token][]byte,
		ByteTokens+len(merges)+len(specials))
	for idx := 0; idx < ByteTokens; idx++ {
		vocab[types.Token(idx)] = []byte{byte(idx)}
	}
	for rank, pair := range merges {
		vocab[types.Token(ByteTokens+rank)] = concatTokenBytes(
			vocab[pair.Left], vocab[pair.Right])
	}
	for name, id := range specials {
		vocab[id] = []byte(name)
	}
	return vocab
}

func concatTokenBytes(left []byte, right []byte) []byte {
	merged := make([]byte, 0, len(left)+len(right))
	merged = append(merged, left...)
	return append(merged, right...)
}

// renderToken pretty-prints token bytes for human inspection.
// Invalid UTF-8 is replaced rather than erroring, and control
// characters are escaped as \u%04x so they cannot distort the
// vocabulary listing.
func renderToken(token []byte) string {
	text := strings.ToValidUTF8(string(token), "�")
	var sb strings.Builder
	for _, r := range text {
		if unicode.In(r, unicode.C) {
			fmt.Fprintf(&sb, `\u%04x`, r)
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
