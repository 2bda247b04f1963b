package orchestrator

import "time"

// ConversationResult summarizes one processed conversation.
type ConversationResult struct {
	ConversationID int    `json:"conversation_id"`
	Name           string `json:"name"`
	Tokens         int    `json:"tokens"`
	Windows        int    `json:"windows"`
	OutputPath     string `json:"output_path"`
}

// RunSummary is returned by Pipeline.Run and persisted as the run manifest.
type RunSummary struct {
	RunID         string               `json:"run_id"`
	Subject       string               `json:"subject"`
	EmbeddingType string               `json:"embedding_type"`
	ContextLength int                  `json:"context_length"`
	GeneratedAt   time.Time            `json:"generated_at"`
	Conversations []ConversationResult `json:"conversations"`
}
