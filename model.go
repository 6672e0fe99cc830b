package byte_bpe

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/edsrzf/mmap-go"
	"github.com/wbrown/byte_bpe/types"
)

// Save writes two files: `<filePrefix>.model`, the authoritative
// model file that Load reads back, and `<filePrefix>.vocab`, a
// human-readable rendering of the vocabulary that is never parsed
// again.
func (tokenizer *Tokenizer) Save(filePrefix string) error {
	if err := tokenizer.writeModel(filePrefix + ".model"); err != nil {
		return err
	}
	return tokenizer.writeVocab(filePrefix + ".vocab")
}

// writeModel writes the versioned model format: the version tag, the
// opaque split pattern, the special token count and entries, then
// one merge pair per line in rank order. Merge ids are implied by
// line order and never stored.
func (tokenizer *Tokenizer) writeModel(path string) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
	}()

	writer := bufio.NewWriter(file)
	fmt.Fprintf(writer, "%s\n", ModelVersion)
	fmt.Fprintf(writer, "%s\n", tokenizer.pattern)
	fmt.Fprintf(writer, "%d\n", len(tokenizer.specials))
	for _, name := range sortedSpecialNames(tokenizer.specials) {
		fmt.Fprintf(writer, "%s %d\n", name, tokenizer.specials[name])
	}
	for _, pair := range tokenizer.merges {
		fmt.Fprintf(writer, "%d %d\n", pair.Left, pair.Right)
	}
	return writer.Flush()
}

// writeVocab writes one line per vocabulary id in ascending id
// order. Merge-derived tokens show their two children; byte and
// special tokens are leaves. Tokens render with control characters
// escaped, which makes the listing lossy and write-only.
func (tokenizer *Tokenizer) writeVocab(path string) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
	}()

	invertedMerges := make(map[types.Token]types.TokenPair,
		len(tokenizer.merges))
	for rank, pair := range tokenizer.merges {
		invertedMerges[types.Token(ByteTokens+rank)] = pair
	}

	ids := make([]types.Token, 0, len(tokenizer.vocab))
	for id := range tokenizer.vocab {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	writer := bufio.NewWriter(file)
	for _, id := range ids {
		rendered := renderToken(tokenizer.vocab[id])
		if pair, ok := invertedMerges[id]; ok {
			fmt.Fprintf(writer, "[%s][%s] -> [%s] %d\n",
				renderToken(tokenizer.vocab[pair.Left]),
				renderToken(tokenizer.vocab[pair.Right]),
				rendered, id)
		} else {
			fmt.Fprintf(writer, "[%s] %d\n", rendered, id)
		}
	}
	return writer.Flush()
}

func sortedSpecialNames(specials map[string]types.Token) []string {
	names := make([]string, 0, len(specials))
	for name := range specials {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return specials[names[i]] < specials[names[j]]
	})
	return names
}

// Load reads a model file written by Save and replaces the
// tokenizer's merge table, pattern, and special tokens, then
// rebuilds the vocabulary. The file is parsed in full before any
// state is touched, so a failed load leaves the tokenizer exactly
// as it was. A version tag mismatch returns ErrModelFormat; any
// malformed line returns ErrModelParse.
func (tokenizer *Tokenizer) Load(path string) (err error) {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
	}()

	stat, err := file.Stat()
	if err != nil {
		return err
	}
	if stat.Size() == 0 {
		return fmt.Errorf("%w: missing version line", ErrModelParse)
	}

	fileMmap, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		return fmt.Errorf("error trying to mmap %s: %w", path, err)
	}
	defer func() {
		if unmapErr := fileMmap.Unmap(); err == nil {
			err = unmapErr
		}
	}()

	merges, pattern, specials, err := parseModel(fileMmap)
	if err != nil {
		return err
	}

	mergeIds := make(map[types.TokenPair]types.Token, len(merges))
	for rank, pair := range merges {
		mergeIds[pair] = types.Token(ByteTokens + rank)
	}
	tokenizer.merges = merges
	tokenizer.mergeIds = mergeIds
	tokenizer.pattern = pattern
	tokenizer.specials = specials
	tokenizer.vocab = buildVocab(merges, specials)
	tokenizer.cache.Purge()
	return nil
}

func parseModel(data []byte) (merges []types.TokenPair,
	pattern string, specials map[string]types.Token, err error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))

	if !scanner.Scan() {
		return nil, "", nil, fmt.Errorf("%w: missing version line",
			ErrModelParse)
	}
	if version := strings.TrimSpace(scanner.Text()); version !=
		ModelVersion {
		return nil, "", nil, fmt.Errorf("%w: got %q, want %q",
			ErrModelFormat, version, ModelVersion)
	}

	if !scanner.Scan() {
		return nil, "", nil, fmt.Errorf("%w: missing pattern line",
			ErrModelParse)
	}
	pattern = strings.TrimSpace(scanner.Text())

	if !scanner.Scan() {
		return nil, "", nil, fmt.Errorf(
			"%w: missing special token count", ErrModelParse)
	}
	numSpecials, convErr := strconv.Atoi(
		strings.TrimSpace(scanner.Text()))
	if convErr != nil || numSpecials < 0 {
		return nil, "", nil, fmt.Errorf(
			"%w: invalid special token count %q", ErrModelParse,
			scanner.Text())
	}

	specials = make(map[string]types.Token, numSpecials)
	for idx := 0; idx < numSpecials; idx++ {
		if !scanner.Scan() {
			return nil, "", nil, fmt.Errorf(
				"%w: expected %d special tokens, got %d",
				ErrModelParse, numSpecials, idx)
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			return nil, "", nil, fmt.Errorf(
				"%w: special token line %q", ErrModelParse,
				scanner.Text())
		}
		id, idErr := strconv.ParseUint(fields[1], 10, 32)
		if idErr != nil {
			return nil, "", nil, fmt.Errorf(
				"%w: special token id %q", ErrModelParse, fields[1])
		}
		specials[fields[0]] = types.Token(id)
	}

	merges = make([]types.TokenPair, 0)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			return nil, "", nil, fmt.Errorf("%w: merge line %q",
				ErrModelParse, scanner.Text())
		}
		left, leftErr := strconv.ParseUint(fields[0], 10, 32)
		right, rightErr := strconv.ParseUint(fields[1], 10, 32)
		if leftErr != nil || rightErr != nil {
			return nil, "", nil, fmt.Errorf("%w: merge line %q",
				ErrModelParse, scanner.Text())
		}
		// A merge may only reference byte tokens or merges defined
		// on earlier lines.
		maxId := uint64(ByteTokens + len(merges))
		if left >= maxId || right >= maxId {
			return nil, "", nil, fmt.Errorf(
				"%w: merge line %q references an undefined id",
				ErrModelParse, scanner.Text())
		}
		merges = append(merges, types.TokenPair{
			Left:  types.Token(left),
			Right: types.Token(right),
		})
	}
	if scanErr := scanner.Err(); scanErr != nil {
		return nil, "", nil, fmt.Errorf("%w: %v", ErrModelParse,
			scanErr)
	}

	if validateErr := validateSpecials(specials,
		len(merges)); validateErr != nil {
		return nil, "", nil, validateErr
	}
	return merges, pattern, specials, nil
}
