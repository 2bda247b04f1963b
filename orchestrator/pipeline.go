// Package orchestrator drives the extraction run: it loads the word table,
// explodes it into tokens, slides context windows through the model service
// one conversation at a time, reassembles per-token embeddings and prediction
// scores, and persists one record file per conversation.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/neurocorpus/embx-pipeline/clients"
	"github.com/neurocorpus/embx-pipeline/config"
	"github.com/neurocorpus/embx-pipeline/gather"
	"github.com/neurocorpus/embx-pipeline/glove"
	"github.com/neurocorpus/embx-pipeline/model"
	"github.com/neurocorpus/embx-pipeline/tokens"
	"github.com/neurocorpus/embx-pipeline/transcript"
	"github.com/neurocorpus/embx-pipeline/window"
)

// Pipeline runs one extraction invocation. Conversations are processed
// strictly one at a time; any failure aborts the run with no partial-result
// checkpointing.
type Pipeline struct {
	cfg *config.Config
	fam model.Family
	inf *clients.Inference
	log *logrus.Logger
}

// New wires a pipeline from its immutable configuration. inf may be nil for
// vector-only families.
func New(cfg *config.Config, fam model.Family, inf *clients.Inference, log *logrus.Logger) *Pipeline {
	return &Pipeline{cfg: cfg, fam: fam, inf: inf, log: log}
}

// conversation is one conversation's contiguous slice of the exploded table.
type conversation struct {
	id   int
	rows []tokens.Row
}

// Run executes the configured extraction and returns the run summary.
func (p *Pipeline) Run(ctx context.Context) (*RunSummary, error) {
	// the conversation-count contract is validated before any inference
	names, err := transcript.ListConversations(p.cfg.InputDir(), p.cfg.Run.Subject)
	if err != nil {
		return nil, err
	}

	words, err := transcript.LoadLabels(p.cfg.LabelsPath(), p.cfg.Run.ConversationID)
	if err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("pipeline: no transcript words for subject %s", p.cfg.Run.Subject)
	}

	vectors, err := glove.Load(p.cfg.Paths.GloveVectors, glove.Dim)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{
		RunID:         uuid.NewString(),
		Subject:       p.cfg.Run.Subject,
		EmbeddingType: p.fam.String(),
		ContextLength: p.cfg.Run.ContextLength,
		GeneratedAt:   time.Now().UTC(),
	}
	p.log.WithFields(logrus.Fields{
		"run_id":  summary.RunID,
		"subject": summary.Subject,
		"family":  summary.EmbeddingType,
		"words":   len(words),
	}).Info("starting extraction")

	var outDir string
	var results []ConversationResult
	switch {
	case p.fam.VectorOnly():
		outDir = p.cfg.OutputDir(p.fam, p.cfg.Run.ContextLength)
		results, err = p.runVectors(words, vectors, names, outDir)
	case p.cfg.Run.History:
		if !p.fam.SupportsContext() {
			return nil, fmt.Errorf("pipeline: context embeddings not supported for family %s", p.fam)
		}
		var ctxLen int
		ctxLen, err = p.resolveContextLength(ctx)
		if err != nil {
			return nil, err
		}
		summary.ContextLength = ctxLen
		outDir = p.cfg.OutputDir(p.fam, ctxLen)
		results, err = p.runContext(ctx, words, vectors, names, outDir, ctxLen)
	default:
		outDir = p.cfg.OutputDir(p.fam, p.cfg.Run.ContextLength)
		results, err = p.runSentences(ctx, words, vectors, names, outDir)
	}
	if err != nil {
		return nil, err
	}
	summary.Conversations = results

	if err := WriteManifest(filepath.Join(outDir, "manifest.json"), *summary); err != nil {
		return nil, err
	}
	if err := p.cfg.Dump(filepath.Join(outDir, "config.yaml")); err != nil {
		return nil, err
	}
	return summary, nil
}

// runContext is the history path: sliding windows through the generative
// model, one conversation at a time.
func (p *Pipeline) runContext(ctx context.Context, words []transcript.Word, vectors *glove.Table, names []string, outDir string, ctxLen int) ([]ConversationResult, error) {
	rows, err := tokens.Explode(ctx, words, p.inf, p.fam, vectors)
	if err != nil {
		return nil, err
	}

	convs, err := splitConversations(rows)
	if err != nil {
		return nil, err
	}
	var results []ConversationResult
	for _, conv := range convs {
		res, err := p.extractConversation(ctx, conv, ctxLen, names, outDir)
		if err != nil {
			return nil, fmt.Errorf("conversation %d: %w", conv.id, err)
		}
		results = append(results, *res)
	}
	return results, nil
}

func (p *Pipeline) extractConversation(ctx context.Context, conv conversation, ctxLen int, names []string, outDir string) (*ConversationResult, error) {
	ids := make([]int, len(conv.rows))
	for i, r := range conv.rows {
		ids[i] = r.TokenID
	}
	windows := window.Slide(ids, ctxLen)
	batches := window.Batches(windows, p.cfg.Inference.WindowBatchSize)

	p.log.WithFields(logrus.Fields{
		"conversation": conv.id,
		"tokens":       len(ids),
		"windows":      len(windows),
	}).Info("extracting conversation")

	var hidden, logits [][][]float64
	for bi, batch := range batches {
		out, err := p.inf.Forward(ctx, p.fam.PretrainedName(), p.cfg.Inference.Device, batch)
		if err != nil {
			return nil, err
		}
		hidden = append(hidden, gather.CollapseBatch(bi, out.HiddenStates))
		logits = append(logits, gather.CollapseBatch(bi, out.Logits))
	}

	embeddings := gather.AssembleEmbeddings(hidden)
	if len(embeddings) != len(ids) {
		return nil, fmt.Errorf("gathered %d embeddings for %d tokens", len(embeddings), len(ids))
	}
	preds, err := gather.Score(ctx, logits, windows, p.decoder())
	if err != nil {
		return nil, err
	}
	if len(preds) != len(ids) {
		return nil, fmt.Errorf("gathered %d predictions for %d tokens", len(preds), len(ids))
	}

	// preds[i] is the prediction made at position i about the following
	// token; record j stores how predictable token j itself was, so the
	// attachment shifts by one and the first token keeps its placeholders.
	for i := range conv.rows {
		conv.rows[i].Embedding = embeddings[i]
		if i > 0 {
			conv.rows[i].SetPrediction(preds[i-1])
		}
	}

	name, err := conversationName(names, conv.id)
	if err != nil {
		return nil, err
	}
	outPath := filepath.Join(outDir, name+".json")
	if err := WriteRecords(outPath, conv.rows); err != nil {
		return nil, err
	}
	if p.cfg.Run.SavePredictions {
		if err := WriteMatrix(filepath.Join(outDir, name+"_predictions.json"), flatten(logits)); err != nil {
			return nil, err
		}
	}
	if p.cfg.Run.SaveHiddenStates {
		if err := WriteMatrix(filepath.Join(outDir, name+"_hidden.json"), flatten(hidden)); err != nil {
			return nil, err
		}
	}

	return &ConversationResult{
		ConversationID: conv.id,
		Name:           name,
		Tokens:         len(ids),
		Windows:        len(windows),
		OutputPath:     outPath,
	}, nil
}

// resolveContextLength applies the tokenizer's maximum single-sequence length
// when no explicit context length was given and rejects lengths the model
// cannot encode.
func (p *Pipeline) resolveContextLength(ctx context.Context) (int, error) {
	info, err := p.inf.Info(ctx, p.fam.PretrainedName())
	if err != nil {
		return 0, err
	}
	ctxLen := p.cfg.Run.ContextLength
	if ctxLen <= 0 {
		ctxLen = info.MaxSingleSequence
	}
	if ctxLen > info.MaxSingleSequence {
		return 0, fmt.Errorf("pipeline: context length %d exceeds model maximum %d", ctxLen, info.MaxSingleSequence)
	}
	if ctxLen < 2 {
		return 0, fmt.Errorf("pipeline: context length %d is too short to predict from", ctxLen)
	}
	return ctxLen, nil
}

func (p *Pipeline) decoder() gather.Decoder {
	return func(ctx context.Context, ids []int) ([]string, error) {
		return p.inf.Decode(ctx, p.fam.PretrainedName(), ids)
	}
}

// runVectors is the static path: one record per word with its GloVe vector,
// nil where the table has no entry.
func (p *Pipeline) runVectors(words []transcript.Word, vectors *glove.Table, names []string, outDir string) ([]ConversationResult, error) {
	rows := make([]tokens.Row, len(words))
	for i, w := range words {
		rows[i] = tokens.Row{
			Word:      w,
			Token:     w.Word,
			RootToken: true,
			Embedding: vectors.Vector(w.Word),
			Glove:     vectors.Vector(w.Word),
		}
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

func flatten(batches [][][]float64) [][]float64 {
	var out [][]float64
	for _, b := range batches {
		out = append(out, b...)
	}
	return out
}

// splitConversations groups exploded rows by conversation id in order of
// appearance. Rows of one conversation must be contiguous in the labels
// table; a conversation id that resurfaces after another would silently
// overwrite the earlier output file, so it is rejected.
func splitConversations(rows []tokens.Row) ([]conversation, error) {
	var out []conversation
	seen := make(map[int]bool)
	for _, r := range rows {
		if len(out) == 0 || out[len(out)-1].id != r.ConversationID {
			if seen[r.ConversationID] {
				return nil, fmt.Errorf("pipeline: conversation %d is not contiguous in labels", r.ConversationID)
			}
			seen[r.ConversationID] = true
			out = append(out, conversation{id: r.ConversationID})
		}
		last := &out[len(out)-1]
		last.rows = append(last.rows, r)
	}
	return out, nil
}

// conversationName resolves the 1-based conversation id against the sorted
// conversation directory listing.
func conversationName(names []string, id int) (string, error) {
	if id < 1 || id > len(names) {
		return "", fmt.Errorf("conversation id %d outside 1..%d", id, len(names))
	}
	return names[id-1], nil
}
