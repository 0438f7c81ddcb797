package synthetic

import "strings"

// EOS is the end-of-sequence id; it also pads prompts.
const EOS int64 = 0

// Tokenizer maps ids to a fixed vocabulary of words.
type Tokenizer struct {
	vocab []string
}

// NewTokenizer builds a vocabulary of size words plus EOS.
// Panics if size < 1.
func NewTokenizer(size int) *Tokenizer {
	if size < 1 {
		panic("NewTokenizer: vocabulary size must be >= 1")
	}
	vocab := make([]string, size+1)
	vocab[0] = "</s>"
	for i := 1; i <= size; i++ {
		vocab[i] = word(i)
	}
	return &Tokenizer{vocab: vocab}
}

// word spells i in base 26 so every id has a distinct, readable word.
func word(i int) string {
	var b []byte
	for i > 0 {
		i--
		b = append([]byte{byte('a' + i%26)}, b...)
		i /= 26
	}
	return string(b)
}

// VocabSize is the number of non-EOS words.
func (t *Tokenizer) VocabSize() int {
	return len(t.vocab) - 1
}

// Word returns the text of one id.
func (t *Tokenizer) Word(id int64) string {
	if id < 0 || int(id) >= len(t.vocab) {
		return "<unk>"
	}
	return t.vocab[id]
}

// IDsToText implements rloo.Tokenizer.
func (t *Tokenizer) IDsToText(ids []int64) string {
	words := make([]string, 0, len(ids))
	for _, id := range ids {
		words = append(words, t.Word(id))
	}
	return strings.Join(words, " ")
}

// EOSID implements rloo.Tokenizer.
func (t *Tokenizer) EOSID() int64 {
	return EOS
}
