package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/neurocorpus/embx-pipeline/glove"
	"github.com/neurocorpus/embx-pipeline/tokens"
	"github.com/neurocorpus/embx-pipeline/transcript"
)

// sentenceKey identifies one sentence inside one conversation.
type sentenceKey struct {
	conversationID int
	sentenceIdx    int
}

// runSentences is the no-history path: whole sentences are encoded in padded
// batches and the per-sentence hidden states are mapped back onto the token
// rows using the family's sequence offset. No next-word predictions are
// computed on this path.
func (p *Pipeline) runSentences(ctx context.Context, words []transcript.Word, vectors *glove.Table, names []string, outDir string) ([]ConversationResult, error) {
	rows, err := tokens.Explode(ctx, words, p.inf, p.fam, vectors)
	if err != nil {
		return nil, err
	}

	sentences, counts := uniqueSentences(rows)
	p.log.WithFields(logrus.Fields{
		"sentences": len(sentences),
		"tokens":    len(rows),
	}).Info("encoding sentences")

	hidden := make([][][]float64, 0, len(sentences))
	for start := 0; start < len(sentences); start += p.cfg.Inference.SentenceBatchSize {
		end := start + p.cfg.Inference.SentenceBatchSize
		if end > len(sentences) {
			end = len(sentences)
		}
		out, err := p.inf.Encode(ctx, p.fam.PretrainedName(), p.cfg.Inference.Device, sentences[start:end])
		if err != nil {
			return nil, err
		}
		hidden = append(hidden, out.HiddenStates...)
	}
	if len(hidden) != len(sentences) {
		return nil, fmt.Errorf("pipeline: encoded %d sentences, expected %d", len(hidden), len(sentences))
	}

	offset := p.fam.SequenceOffset()
	cursor := 0
	for si, count := range counts {
		if len(hidden[si]) < offset+count {
			return nil, fmt.Errorf("pipeline: sentence %d has %d positions for %d tokens at offset %d",
				si, len(hidden[si]), count, offset)
		}
		for j := 0; j < count; j++ {
			rows[cursor+j].Embedding = hidden[si][offset+j]
		}
		cursor += count
	}
	if cursor != len(rows) {
		return nil, fmt.Errorf("pipeline: mapped %d of %d token rows", cursor, len(rows))
	}

	convs, err := splitConversations(rows)
	if err != nil {
		return nil, err
	}
	var results []ConversationResult
	for _, conv := range convs {
		name, err := conversationName(names, conv.id)
		if err != nil {
			return nil, err
		}
		outPath := filepath.Join(outDir, name+".json")
		if err := WriteRecords(outPath, conv.rows); err != nil {
			return nil, err
		}
		results = append(results, ConversationResult{
			ConversationID: conv.id,
			Name:           name,
			Tokens:         len(conv.rows),
			OutputPath:     outPath,
		})
	}
	return results, nil
}

// uniqueSentences returns each distinct (conversation, sentence) text in
// order of appearance alongside the token count of every sentence.
func uniqueSentences(rows []tokens.Row) ([]string, []int) {
	var sentences []string
	var counts []int
	var last *sentenceKey
	for _, r := range rows {
		key := sentenceKey{r.ConversationID, r.SentenceIdx}
		if last == nil || *last != key {
			sentences = append(sentences, r.Sentence)
			counts = append(counts, 0)
			k := key
			last = &k
		}
		counts[len(counts)-1]++
	}
	return sentences, counts
}
