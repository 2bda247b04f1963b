package orchestrator_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neurocorpus/embx-pipeline/clients"
	"github.com/neurocorpus/embx-pipeline/config"
	"github.com/neurocorpus/embx-pipeline/glove"
	"github.com/neurocorpus/embx-pipeline/model"
	"github.com/neurocorpus/embx-pipeline/orchestrator"
	"github.com/neurocorpus/embx-pipeline/transcript"
)

// vocab used by the fake service: index = token id.
var vocab = []string{"<pad>", "the", "cat", "sat", "down"}

func respondJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// fakeService implements /info, /tokenize, /decode, /forward and /encode with
// deterministic outputs: every forward logit row is one-hot on the id the
// model "should" predict next, taken from the window's final position.
type fakeService struct {
	forwardCalls atomic.Int64
}

func (s *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, map[string]any{
			"max_single_sequence": 1024,
			"vocab_size":          len(vocab),
			"hidden_size":         4,
		})
	})
	mux.HandleFunc("/tokenize", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Words []string `json:"words"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		pieces := make([][]clients.TokenPiece, len(req.Words))
		for i, word := range req.Words {
			id := 0
			for vi, v := range vocab {
				if v == word {
					id = vi
				}
			}
			pieces[i] = []clients.TokenPiece{{Text: "Ġ" + word, Display: " " + word, ID: id}}
		}
		respondJSON(w, map[string]any{"tokens": pieces})
	})
	mux.HandleFunc("/decode", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			IDs []int `json:"ids"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		words := make([]string, len(req.IDs))
		for i, id := range req.IDs {
			words[i] = vocab[id]
		}
		respondJSON(w, map[string]any{"words": words})
	})
	mux.HandleFunc("/forward", func(w http.ResponseWriter, r *http.Request) {
		s.forwardCalls.Add(1)
		var req struct {
			Windows [][]int `json:"windows"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		hidden := make([][][]float64, len(req.Windows))
		logits := make([][][]float64, len(req.Windows))
		for wi, win := range req.Windows {
			hidden[wi] = make([][]float64, len(win))
			logits[wi] = make([][]float64, len(win))
			for pi, id := range win {
				hidden[wi][pi] = []float64{float64(id), float64(pi), 1, 2}
				row := make([]float64, len(vocab))
				// position pi predicts the window's token at pi+1; the last
				// position predicts the true next id correctly as well
				next := win[len(win)-1]
				if pi+1 < len(win) {
					next = win[pi+1]
				}
				row[next] = 8
				logits[wi][pi] = row
			}
		}
		respondJSON(w, map[string]any{"hidden_states": hidden, "logits": logits})
	})
	mux.HandleFunc("/encode", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Sentences []string `json:"sentences"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		hidden := make([][][]float64, len(req.Sentences))
		for si, sent := range req.Sentences {
			n := len(strings.Fields(sent))
			hidden[si] = make([][]float64, n)
			for i := 0; i < n; i++ {
				hidden[si][i] = []float64{float64(si), float64(i)}
			}
		}
		respondJSON(w, map[string]any{"hidden_states": hidden})
	})
	return mux
}

type fixture struct {
	cfg *config.Config
	inf *clients.Inference
	svc *fakeService
}

func newFixture(t *testing.T, conversations int, words []transcript.Word, run config.Run) *fixture {
	t.Helper()
	root := t.TempDir()

	dataDir := filepath.Join(root, "data", run.Subject)
	for i := 0; i < conversations; i++ {
		if err := os.MkdirAll(filepath.Join(dataDir, fmt.Sprintf("conv-%03d", i+1)), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}

	labels := filepath.Join(root, "results", run.Subject, "pickles", run.Subject+"_full_labels.json")
	if err := os.MkdirAll(filepath.Dir(labels), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	payload, _ := json.Marshal(map[string]any{"labels": words})
	if err := os.WriteFile(labels, payload, 0o644); err != nil {
		t.Fatalf("write labels: %v", err)
	}

	var vectorLines []string
	for _, w := range vocab[1:] {
		parts := []string{w}
		for i := 0; i < glove.Dim; i++ {
			parts = append(parts, "0.25")
		}
		vectorLines = append(vectorLines, strings.Join(parts, " "))
	}
	vectorsPath := filepath.Join(root, "glove.txt")
	if err := os.WriteFile(vectorsPath, []byte(strings.Join(vectorLines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write vectors: %v", err)
	}

	svc := &fakeService{}
	srv := httptest.NewServer(svc.handler())
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		Pipeline:  config.Pipeline{Name: "embx", LogLevel: "error"},
		Service:   config.Service{URL: srv.URL, TimeoutSeconds: 5},
		Paths:     config.Paths{Data: filepath.Join(root, "data"), Results: filepath.Join(root, "results"), GloveVectors: vectorsPath},
		Inference: config.Inference{Device: "cpu", WindowBatchSize: 2, SentenceBatchSize: 8},
		Run:       run,
	}
	return &fixture{
		cfg: cfg,
		inf: clients.NewInference(srv.URL, 5*time.Second),
		svc: svc,
	}
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func labelWords(sentence string, conv int, texts ...string) []transcript.Word {
	out := make([]transcript.Word, len(texts))
	for i, text := range texts {
		out[i] = transcript.Word{
			Word: text, ConversationID: conv, SentenceIdx: 1, Sentence: sentence,
			Speaker: "S1", Onset: float64(i), Offset: float64(i) + 0.5,
		}
	}
	return out
}

func TestContextPathTheCatExample(t *testing.T) {
	words := labelWords("the cat", 1, "the", "cat")
	fx := newFixture(t, 54, words, config.Run{
		EmbeddingType: "gpt2", ContextLength: 2, History: true,
		Subject: "625", ConversationID: 1,
	})

	summary, err := orchestrator.New(fx.cfg, model.GPT2, fx.inf, quietLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(summary.Conversations) != 1 {
		t.Fatalf("conversation count: got %d want 1", len(summary.Conversations))
	}
	res := summary.Conversations[0]
	if res.Tokens != 2 || res.Windows != 1 {
		t.Fatalf("summary counts: tokens %d windows %d", res.Tokens, res.Windows)
	}
	if res.Name != "conv-001" {
		t.Fatalf("conversation name: got %q", res.Name)
	}

	rows, err := orchestrator.ReadRecords(res.OutputPath)
	if err != nil {
		t.Fatalf("read records: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("output rows: got %d want 2", len(rows))
	}

	first, second := rows[0], rows[1]
	if first.Embedding != nil {
		t.Fatal("first token must have a missing embedding")
	}
	if first.TrueProb != nil || first.Top1Pred != nil || first.Top1Prob != nil {
		t.Fatalf("first token must carry placeholders: %+v", first)
	}
	if second.Embedding == nil {
		t.Fatal("second token must have an embedding")
	}
	if second.TrueProb == nil || second.Top1Pred == nil {
		t.Fatalf("second token must carry a real probability: %+v", second)
	}
	if *second.Top1Pred != "cat" {
		t.Fatalf("second token top-1: got %q want cat", *second.Top1Pred)
	}
	if *second.TrueProb != *second.Top1Prob {
		t.Fatal("one-hot service: true and top-1 probability must match")
	}
}

func TestContextPathLongerConversation(t *testing.T) {
	words := labelWords("the cat sat down", 1, "the", "cat", "sat", "down")
	fx := newFixture(t, 54, words, config.Run{
		EmbeddingType: "gpt2", ContextLength: 2, History: true,
		Subject: "625", ConversationID: 1,
	})

	summary, err := orchestrator.New(fx.cfg, model.GPT2, fx.inf, quietLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	res := summary.Conversations[0]
	if res.Tokens != 4 || res.Windows != 3 {
		t.Fatalf("summary counts: tokens %d windows %d", res.Tokens, res.Windows)
	}

	rows, err := orchestrator.ReadRecords(res.OutputPath)
	if err != nil {
		t.Fatalf("read records: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("output rows: got %d want 4", len(rows))
	}
	if rows[0].Embedding != nil {
		t.Fatal("first token embedding must be missing")
	}
	for i := 1; i < 4; i++ {
		if rows[i].Embedding == nil {
			t.Fatalf("token %d embedding missing", i)
		}
	}
	if rows[0].TrueProb != nil || rows[0].Top1Pred != nil {
		t.Fatalf("first token must carry placeholders: %+v", rows[0])
	}
	// every later token scores against a one-hot service that always predicts
	// the observed token, so its top-1 word is its own surface word
	for i := 1; i < 4; i++ {
		if rows[i].TrueProb == nil || rows[i].Top1Prob == nil {
			t.Fatalf("token %d must be scored: %+v", i, rows[i])
		}
		if *rows[i].TrueProb != *rows[i].Top1Prob {
			t.Fatalf("token %d: true and top-1 probability must match", i)
		}
		if *rows[i].Top1Pred != rows[i].Word.Word {
			t.Fatalf("token %d top-1: got %q want %q", i, *rows[i].Top1Pred, rows[i].Word.Word)
		}
	}
}

func TestConversationCountAbortsBeforeInference(t *testing.T) {
	words := labelWords("the cat", 1, "the", "cat")
	fx := newFixture(t, 53, words, config.Run{
		EmbeddingType: "gpt2", ContextLength: 2, History: true,
		Subject: "625", ConversationID: 1,
	})

	if _, err := orchestrator.New(fx.cfg, model.GPT2, fx.inf, quietLogger()).Run(context.Background()); err == nil {
		t.Fatal("expected abort for wrong conversation count")
	}
	if calls := fx.svc.forwardCalls.Load(); calls != 0 {
		t.Fatalf("inference ran %d times before the count check", calls)
	}
}

func TestHistoryRejectedForNonGenerativeFamily(t *testing.T) {
	words := labelWords("the cat", 1, "the", "cat")
	fx := newFixture(t, 54, words, config.Run{
		EmbeddingType: "bert", ContextLength: 2, History: true,
		Subject: "625", ConversationID: 1,
	})

	_, err := orchestrator.New(fx.cfg, model.BERT, fx.inf, quietLogger()).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "not supported") {
		t.Fatalf("expected unsupported-family error, got %v", err)
	}
}

func TestSentencePathMapsEmbeddingsWithOffset(t *testing.T) {
	words := labelWords("the cat sat", 1, "the", "cat", "sat")
	fx := newFixture(t, 54, words, config.Run{
		EmbeddingType: "gpt2", Subject: "625", ConversationID: 1,
	})

	summary, err := orchestrator.New(fx.cfg, model.GPT2, fx.inf, quietLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	rows, err := orchestrator.ReadRecords(summary.Conversations[0].OutputPath)
	if err != nil {
		t.Fatalf("read records: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("output rows: got %d want 3", len(rows))
	}
	for i, r := range rows {
		// gpt2 offset is 0, so token i maps to sentence position i
		want := []float64{0, float64(i)}
		if !reflect.DeepEqual(r.Embedding, want) {
			t.Fatalf("token %d embedding: got %v want %v", i, r.Embedding, want)
		}
		if r.Top1Pred != nil || r.TrueProb != nil {
			t.Fatalf("sentence path computes no predictions: %+v", r)
		}
	}
}

func TestVectorOnlyPath(t *testing.T) {
	words := labelWords("the zyzzyva", 1, "the", "zyzzyva")
	fx := newFixture(t, 54, words, config.Run{
		EmbeddingType: "glove50", Subject: "625", ConversationID: 1,
	})

	summary, err := orchestrator.New(fx.cfg, model.GloVe50, nil, quietLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	rows, err := orchestrator.ReadRecords(summary.Conversations[0].OutputPath)
	if err != nil {
		t.Fatalf("read records: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("output rows: got %d want 2", len(rows))
	}
	if len(rows[0].Embedding) != glove.Dim {
		t.Fatalf("known word vector length: got %d", len(rows[0].Embedding))
	}
	if rows[1].Embedding != nil {
		t.Fatal("unknown word must carry a missing vector")
	}
}

func TestNonContiguousConversationRejected(t *testing.T) {
	// a conversation id that resurfaces after another would overwrite the
	// earlier conversation's output file
	words := labelWords("the cat", 1, "the", "cat")
	words = append(words, labelWords("cat sat", 2, "cat", "sat")...)
	words = append(words, labelWords("sat down", 1, "sat", "down")...)
	fx := newFixture(t, 54, words, config.Run{
		EmbeddingType: "glove50", Subject: "625",
	})

	_, err := orchestrator.New(fx.cfg, model.GloVe50, nil, quietLogger()).Run(context.Background())
	if err == nil {
		t.Fatal("expected an error for a non-contiguous conversation")
	}
	if !strings.Contains(err.Error(), "not contiguous") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSavePredictionsAndHiddenStates(t *testing.T) {
	words := labelWords("the cat sat", 1, "the", "cat", "sat")
	fx := newFixture(t, 54, words, config.Run{
		EmbeddingType: "gpt2", ContextLength: 2, History: true,
		Subject: "625", ConversationID: 1,
		SavePredictions: true, SaveHiddenStates: true,
	})

	summary, err := orchestrator.New(fx.cfg, model.GPT2, fx.inf, quietLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	dir := filepath.Dir(summary.Conversations[0].OutputPath)
	for _, name := range []string{"conv-001_predictions.json", "conv-001_hidden.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("missing side file %s: %v", name, err)
		}
	}
}

func TestRunWritesManifestAndConfigDump(t *testing.T) {
	words := labelWords("the cat", 1, "the", "cat")
	fx := newFixture(t, 54, words, config.Run{
		EmbeddingType: "gpt2", ContextLength: 2, History: true,
		Subject: "625", ConversationID: 1,
	})

	summary, err := orchestrator.New(fx.cfg, model.GPT2, fx.inf, quietLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	dir := filepath.Dir(summary.Conversations[0].OutputPath)
	for _, name := range []string{"manifest.json", "config.yaml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
	if summary.RunID == "" {
		t.Fatal("summary must carry a run id")
	}
}
