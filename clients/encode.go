package clients

import (
	"context"
	"fmt"
)

type encodeRequest struct {
	Model     string   `json:"model"`
	Device    string   `json:"device"`
	Sentences []string `json:"sentences"`
}

// EncodeResult carries last-layer hidden states for a padded batch of whole
// sentences, one matrix per sentence including any special tokens the model
// prepends or appends.
type EncodeResult struct {
	HiddenStates [][][]float64 `json:"hidden_states"`
}

// Encode runs whole sentences through the model as one padded batch. Used by
// the no-history path where embeddings come from full-sentence encodings
// rather than sliding windows.
func (i *Inference) Encode(ctx context.Context, modelName, device string, sentences []string) (*EncodeResult, error) {
	var out EncodeResult
	resp, err := i.request(ctx).
		SetBody(encodeRequest{Model: modelName, Device: device, Sentences: sentences}).
		SetResult(&out).
		Post("/encode")
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	if resp.IsError() {
		return nil, statusErr("encode", resp)
	}
	if len(out.HiddenStates) != len(sentences) {
		return nil, fmt.Errorf("encode: %d hidden matrices for %d sentences", len(out.HiddenStates), len(sentences))
	}
	return &out, nil
}
