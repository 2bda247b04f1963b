package clients

import (
	"context"
	"fmt"
)

type infoRequest struct {
	Model string `json:"model"`
}

// ModelInfo describes the loaded checkpoint's tokenizer limits.
type ModelInfo struct {
	MaxSingleSequence int `json:"max_single_sequence"`
	VocabSize         int `json:"vocab_size"`
	HiddenSize        int `json:"hidden_size"`
}

// Info reports the tokenizer and model dimensions for a checkpoint. The
// contextual path uses MaxSingleSequence as the default context length.
func (i *Inference) Info(ctx context.Context, modelName string) (*ModelInfo, error) {
	var out ModelInfo
	resp, err := i.request(ctx).
		SetBody(infoRequest{Model: modelName}).
		SetResult(&out).
		Post("/info")
	if err != nil {
		return nil, fmt.Errorf("model info: %w", err)
	}
	if resp.IsError() {
		return nil, statusErr("model info", resp)
	}
	return &out, nil
}
