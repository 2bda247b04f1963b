package gather

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Prediction holds the scored next-token fields for one token position. Nil
// pointers are the missing-value representation: the final token of a
// conversation has no ground-truth next token, and a degenerate run with no
// logits yields all placeholders.
type Prediction struct {
	Top1Word *string
	Top1Prob *float64
	TrueProb *float64
}

// Decoder converts token ids back to display words.
type Decoder func(ctx context.Context, ids []int) ([]string, error)

// Score turns collapsed logit batches into per-token predictions. The
// ground-truth id for each scored row is the token actually observed next in
// the original sequence, reconstructed from the windows with the same overlap
// rule the collapse applies: the first window contributes ids 1..W-1 and every
// later window contributes its final id. A trailing placeholder row is
// appended for the conversation's last token.
func Score(ctx context.Context, collapsedLogits [][][]float64, windows [][]int, decode Decoder) ([]Prediction, error) {
	rows := make([][]float64, 0, countRows(collapsedLogits))
	for _, batch := range collapsedLogits {
		rows = append(rows, batch...)
	}
	if len(rows) == 0 {
		return []Prediction{{}}, nil
	}

	trueIDs := make([]int, 0, len(rows))
	trueIDs = append(trueIDs, windows[0][1:]...)
	for _, win := range windows[1:] {
		trueIDs = append(trueIDs, win[len(win)-1])
	}
	if len(trueIDs) != len(rows) {
		return nil, fmt.Errorf("score: %d logit rows but %d ground-truth ids", len(rows), len(trueIDs))
	}

	top1IDs := make([]int, len(rows))
	top1Probs := make([]float64, len(rows))
	trueProbs := make([]float64, len(rows))
	for i, row := range rows {
		probs := softmax(row)
		idx := floats.MaxIdx(probs)
		top1IDs[i] = idx
		top1Probs[i] = probs[idx]
		if trueIDs[i] < 0 || trueIDs[i] >= len(probs) {
			return nil, fmt.Errorf("score: ground-truth id %d outside vocabulary of %d", trueIDs[i], len(probs))
		}
		trueProbs[i] = probs[trueIDs[i]]
	}

	words, err := decode(ctx, top1IDs)
	if err != nil {
		return nil, fmt.Errorf("decode top-1 ids: %w", err)
	}
	if len(words) != len(rows) {
		return nil, fmt.Errorf("score: decoded %d words for %d rows", len(words), len(rows))
	}

	preds := make([]Prediction, len(rows), len(rows)+1)
	for i := range rows {
		word := words[i]
		top1 := top1Probs[i]
		trueP := trueProbs[i]
		preds[i] = Prediction{Top1Word: &word, Top1Prob: &top1, TrueProb: &trueP}
	}
	// last token of the conversation has no observed next token
	preds = append(preds, Prediction{})
	return preds, nil
}

func softmax(logits []float64) []float64 {
	probs := make([]float64, len(logits))
	max := floats.Max(logits)
	for i, v := range logits {
		probs[i] = math.Exp(v - max)
	}
	floats.Scale(1/floats.Sum(probs), probs)
	return probs
}
