// Package model enumerates the supported embedding model families and the
// capabilities that differ between them: how sub-word tokens reassemble into
// surface words, where the real tokens start inside an encoded sequence, and
// whether the family supports contextual (sliding-window) extraction at all.
package model

import (
	"fmt"
	"strings"
)

// Family is a closed set of embedding model families. Dispatch happens on the
// variant, never on raw strings.
type Family int

const (
	GPT2 Family = iota
	BERT
	RoBERTa
	BART
	GloVe50
)

// Parse maps a CLI/config string to a Family.
func Parse(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gpt2":
		return GPT2, nil
	case "bert":
		return BERT, nil
	case "roberta":
		return RoBERTa, nil
	case "bart":
		return BART, nil
	case "glove50":
		return GloVe50, nil
	default:
		return 0, fmt.Errorf("unknown embedding type %q", s)
	}
}

func (f Family) String() string {
	switch f {
	case GPT2:
		return "gpt2"
	case BERT:
		return "bert"
	case RoBERTa:
		return "roberta"
	case BART:
		return "bart"
	case GloVe50:
		return "glove50"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// PretrainedName is the checkpoint the inference service loads for the family.
func (f Family) PretrainedName() string {
	switch f {
	case GPT2:
		return "gpt2-xl"
	case BERT:
		return "bert-large-uncased-whole-word-masking"
	case RoBERTa:
		return "roberta"
	case BART:
		return "bart"
	default:
		return ""
	}
}

// WholeWordTokens reports whether the family's tokenizer emits whole words
// (BERT WordPiece with whole-word masking) rather than byte-pair pieces. The
// root-token check compares token text directly for whole-word tokenizers and
// the detokenized surface form for sub-word ones.
func (f Family) WholeWordTokens() bool {
	return f == BERT
}

// SequenceOffset is the index of the first transcript token inside an encoded
// sentence. BERT-style encoders prepend a special token, generative GPT-2
// sequences start at zero.
func (f Family) SequenceOffset() int {
	switch f {
	case GPT2:
		return 0
	default:
		return 1
	}
}

// SupportsContext reports whether the sliding-window contextual path is
// implemented for the family.
func (f Family) SupportsContext() bool {
	return f == GPT2
}

// VectorOnly reports whether the family is a static word-vector table with no
// tokenizer or forward pass.
func (f Family) VectorOnly() bool {
	return f == GloVe50
}
