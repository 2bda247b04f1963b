package clients

import (
	"context"
	"fmt"
)

type forwardRequest struct {
	Model   string  `json:"model"`
	Device  string  `json:"device"`
	Windows [][]int `json:"windows"`
}

// ForwardResult carries one mini-batch of model outputs. HiddenStates holds
// the last hidden layer per window and position; Logits the prediction scores
// over the vocabulary. The service runs the pass without gradient tracking.
type ForwardResult struct {
	HiddenStates [][][]float64 `json:"hidden_states"`
	Logits       [][][]float64 `json:"logits"`
}

// Forward runs one mini-batch of context windows through the model.
func (i *Inference) Forward(ctx context.Context, modelName, device string, windows [][]int) (*ForwardResult, error) {
	var out ForwardResult
	resp, err := i.request(ctx).
		SetBody(forwardRequest{Model: modelName, Device: device, Windows: windows}).
		SetResult(&out).
		Post("/forward")
	if err != nil {
		return nil, fmt.Errorf("forward: %w", err)
	}
	if resp.IsError() {
		return nil, statusErr("forward", resp)
	}
	if len(out.HiddenStates) != len(windows) || len(out.Logits) != len(windows) {
		return nil, fmt.Errorf("forward: got %d hidden / %d logit windows for %d inputs",
			len(out.HiddenStates), len(out.Logits), len(windows))
	}
	return &out, nil
}
