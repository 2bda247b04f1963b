// Package gather reassembles per-window model outputs into one row per token.
// Windows overlap, so most positions of every window after the first repeat
// tokens already covered; the collapse rule keeps exactly the rows that
// contribute a new token's output.
package gather

// CollapseBatch reduces one mini-batch of per-window outputs (window, position,
// dim) to the rows that cover previously unseen tokens.
//
// For the first batch, the first window contributes positions 0..W-2 and every
// remaining window in the batch contributes its position W-2 alone. When the
// first batch holds a single window, the final position is dropped the same
// way even though no later window re-covers it. Every subsequent batch
// contributes position W-2 of each of its windows. The last position of a
// window is always excluded: it is the model's prediction target for a token
// that has no following context yet.
func CollapseBatch(batchNum int, out [][][]float64) [][]float64 {
	if len(out) == 0 {
		return nil
	}
	if batchNum == 0 {
		first := out[0]
		rows := make([][]float64, 0, len(first)-1+len(out)-1)
		for _, row := range first[:len(first)-1] {
			rows = append(rows, cloneRow(row))
		}
		for _, win := range out[1:] {
			rows = append(rows, cloneRow(win[len(win)-2]))
		}
		return rows
	}
	rows := make([][]float64, 0, len(out))
	for _, win := range out {
		rows = append(rows, cloneRow(win[len(win)-2]))
	}
	return rows
}

// AssembleEmbeddings concatenates collapsed batches and prepends a missing row
// for the very first token, which has no preceding context to be predicted
// from. The result has exactly one row per token in original order; the first
// row is nil.
func AssembleEmbeddings(collapsed [][][]float64) [][]float64 {
	rows := make([][]float64, 1, 1+countRows(collapsed))
	for _, batch := range collapsed {
		rows = append(rows, batch...)
	}
	return rows
}

func countRows(batches [][][]float64) int {
	n := 0
	for _, b := range batches {
		n += len(b)
	}
	return n
}

func cloneRow(row []float64) []float64 {
	c := make([]float64, len(row))
	copy(c, row)
	return c
}
