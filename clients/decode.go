package clients

import (
	"context"
	"fmt"
)

type decodeRequest struct {
	Model string `json:"model"`
	IDs   []int  `json:"ids"`
}

type decodeResponse struct {
	Words []string `json:"words"`
}

// Decode converts token ids back to display words, one word per id.
func (i *Inference) Decode(ctx context.Context, modelName string, ids []int) ([]string, error) {
	var out decodeResponse
	resp, err := i.request(ctx).
		SetBody(decodeRequest{Model: modelName, IDs: ids}).
		SetResult(&out).
		Post("/decode")
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if resp.IsError() {
		return nil, statusErr("decode", resp)
	}
	if len(out.Words) != len(ids) {
		return nil, fmt.Errorf("decode: %d words for %d ids", len(out.Words), len(ids))
	}
	return out.Words, nil
}
