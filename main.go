package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/neurocorpus/embx-pipeline/clients"
	"github.com/neurocorpus/embx-pipeline/config"
	"github.com/neurocorpus/embx-pipeline/model"
	"github.com/neurocorpus/embx-pipeline/orchestrator"
)

var flags struct {
	configPath       string
	embeddingType    string
	contextLength    int
	history          bool
	subject          string
	conversationID   int
	savePredictions  bool
	saveHiddenStates bool
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "embx",
		Short:         "Extract contextual embeddings and next-word probabilities from conversation transcripts",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd)
		},
	}
	cmd.Flags().StringVar(&flags.configPath, "config", "", "path to config.yaml (default config/$EMBX_ENV/config.yaml)")
	cmd.Flags().StringVar(&flags.embeddingType, "embedding-type", "glove50", "model family: gpt2, bert, roberta, bart, glove50")
	cmd.Flags().IntVar(&flags.contextLength, "context-length", 0, "context window length (0 uses the tokenizer maximum)")
	cmd.Flags().BoolVar(&flags.history, "history", false, "use sliding-window contextual embeddings")
	cmd.Flags().StringVar(&flags.subject, "subject", "625", "subject identifier")
	cmd.Flags().IntVar(&flags.conversationID, "conversation-id", 0, "restrict to one conversation (1-based, 0 for all)")
	cmd.Flags().BoolVar(&flags.savePredictions, "save-predictions", false, "also persist raw prediction logits")
	cmd.Flags().BoolVar(&flags.saveHiddenStates, "save-hidden-states", false, "also persist raw hidden states")
	return cmd
}

func run(cmd *cobra.Command) error {
	fam, err := model.Parse(flags.embeddingType)
	if err != nil {
		return err
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	cfg.Run = config.Run{
		EmbeddingType:    fam.String(),
		ContextLength:    flags.contextLength,
		History:          flags.history,
		Subject:          flags.subject,
		ConversationID:   flags.conversationID,
		SavePredictions:  flags.savePredictions,
		SaveHiddenStates: flags.saveHiddenStates,
	}
	if err := cfg.Validate(fam); err != nil {
		return err
	}

	log := newLogger(cfg.Pipeline.LogLevel)

	var inf *clients.Inference
	if !fam.VectorOnly() {
		inf = clients.NewInference(cfg.Service.URL, cfg.Service.Timeout())
	}

	start := time.Now()
	log.WithField("start", start.Format(time.RFC1123)).Info("run starting")

	summary, err := orchestrator.New(cfg, fam, inf, log).Run(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), summaryTable(summary))
	log.WithFields(logrus.Fields{
		"end":     time.Now().Format(time.RFC1123),
		"runtime": time.Since(start).Round(time.Second).String(),
	}).Info("run finished")
	return nil
}

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logrus.Fatal(err)
	}
}
