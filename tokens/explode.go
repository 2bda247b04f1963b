// Package tokens expands word-level transcript rows into one row per sub-word
// token, replicating every word field onto each token and tagging tokens that
// reproduce their surface word.
package tokens

import (
	"context"
	"fmt"
	"strings"

	"github.com/neurocorpus/embx-pipeline/clients"
	"github.com/neurocorpus/embx-pipeline/gather"
	"github.com/neurocorpus/embx-pipeline/glove"
	"github.com/neurocorpus/embx-pipeline/model"
	"github.com/neurocorpus/embx-pipeline/transcript"
)

// python string.punctuation; single-character tokens in this set are dropped
const punctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// Row is one token of the exploded table. Word-level fields are embedded and
// identical across all tokens of the same word. The inference results are
// filled in by the pipeline after extraction; nil means missing.
type Row struct {
	transcript.Word
	Glove     []float64 `json:"glove50_embeddings"`
	Token     string    `json:"token"`
	TokenID   int       `json:"token_id"`
	RootToken bool      `json:"token_is_root"`

	Embedding []float64 `json:"embeddings"`
	Top1Pred  *string   `json:"top1_pred"`
	Top1Prob  *float64  `json:"top1_pred_prob"`
	TrueProb  *float64  `json:"true_pred_prob"`
}

// SetPrediction copies one scored prediction onto the row.
func (r *Row) SetPrediction(p gather.Prediction) {
	r.Top1Pred = p.Top1Word
	r.Top1Prob = p.Top1Prob
	r.TrueProb = p.TrueProb
}

// Tokenizer is the slice of the inference client the exploder needs.
type Tokenizer interface {
	Tokenize(ctx context.Context, modelName string, words []string) ([][]clients.TokenPiece, error)
}

// Explode tokenizes every word and emits one row per resulting token,
// preserving word order and intra-word token order. Tokens equal to a single
// punctuation mark are dropped. Each word row also receives its static GloVe
// vector (nil when the word has no entry). Vector-only families cannot be
// exploded.
func Explode(ctx context.Context, words []transcript.Word, tok Tokenizer, fam model.Family, vectors *glove.Table) ([]Row, error) {
	if fam.VectorOnly() {
		return nil, fmt.Errorf("explode: family %s has no tokenizer", fam)
	}

	texts := make([]string, len(words))
	for i, w := range words {
		texts[i] = w.Word
	}
	pieces, err := tok.Tokenize(ctx, fam.PretrainedName(), texts)
	if err != nil {
		return nil, fmt.Errorf("explode: %w", err)
	}

	rows := make([]Row, 0, len(words))
	for i, w := range words {
		vec := vectors.Vector(w.Word)
		for _, p := range pieces[i] {
			if isPunctuation(p.Text) {
				continue
			}
			rows = append(rows, Row{
				Word:      w,
				Glove:     vec,
				Token:     p.Text,
				TokenID:   p.ID,
				RootToken: isRoot(fam, w.Word, p),
			})
		}
	}
	return rows, nil
}

// isRoot applies the family's reconstruction rule: whole-word tokenizers must
// match the token text itself, sub-word tokenizers the detokenized surface
// form of the token.
func isRoot(fam model.Family, word string, p clients.TokenPiece) bool {
	if fam.WholeWordTokens() {
		return p.Text == word
	}
	return strings.TrimSpace(p.Display) == word
}

func isPunctuation(token string) bool {
	return len(token) == 1 && strings.Contains(punctuation, token)
}
