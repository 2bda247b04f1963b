package clients

import (
	"context"
	"fmt"
)

// TokenPiece is one sub-word token of a word. Text is the tokenizer's raw
// token, Display is the detokenized surface form of that single token (what
// convert_tokens_to_string would print), ID its vocabulary index.
type TokenPiece struct {
	Text    string `json:"text"`
	Display string `json:"display"`
	ID      int    `json:"id"`
}

type tokenizeRequest struct {
	Model string   `json:"model"`
	Words []string `json:"words"`
}

type tokenizeResponse struct {
	Tokens [][]TokenPiece `json:"tokens"`
}

// Tokenize splits each word into its sub-word tokens, one piece list per input
// word, in input order.
func (i *Inference) Tokenize(ctx context.Context, modelName string, words []string) ([][]TokenPiece, error) {
	var out tokenizeResponse
	resp, err := i.request(ctx).
		SetBody(tokenizeRequest{Model: modelName, Words: words}).
		SetResult(&out).
		Post("/tokenize")
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	if resp.IsError() {
		return nil, statusErr("tokenize", resp)
	}
	if len(out.Tokens) != len(words) {
		return nil, fmt.Errorf("tokenize: %d piece lists for %d words", len(out.Tokens), len(words))
	}
	return out.Tokens, nil
}
