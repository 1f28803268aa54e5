package embedding

import (
	"hash/fnv"
	"strings"
	"unicode"
)

const (
	tokenCLS = 101
	tokenSEP = 102

	// Hashed word ids land above the special and unused ids of a BERT vocabulary.
	vocabOffset = 1000
	vocabSize   = 30522

	defaultMaxTokens = 256
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// HashTokenizer lowercases text, splits it into words and maps each word to a
// stable hashed vocabulary id. Output is [CLS] words... [SEP], zero-padded.
type HashTokenizer struct{}

// Tokenize returns padded sequences of length maxTokens. Words past the limit are dropped;
// [SEP] is always kept.
func (t *HashTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens < 2 {
		maxTokens = defaultMaxTokens
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = tokenCLS
	attentionMask[0] = 1
	pos := 1
	for _, w := range Words(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = TokenID(w)
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = tokenSEP
	attentionMask[pos] = 1
	return inputIDs, attentionMask, tokenTypeIDs
}

// Words lowercases text and splits it on anything that is not a letter or digit.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// TokenID maps a word to an id in [vocabOffset, vocabSize).
func TokenID(word string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(word))
	return vocabOffset + int64(h.Sum32()%(vocabSize-vocabOffset))
}
