package types

// Token is a vocabulary id. Ids below 256 are the raw byte values;
// ids from 256 up are merge-derived composites, assigned in the
// order their merges were learned.
type Token uint32
type Tokens []Token

// TokenPair is an ordered pair of adjacent token ids, the unit a
// single BPE merge step folds into one id.
type TokenPair struct {
	Left  Token
	Right Token
}
