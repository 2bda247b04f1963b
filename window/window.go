// Package window slices a conversation's token-id sequence into the
// overlapping context windows fed to the model.
package window

// Slide returns step-1 sliding windows of width w over ids. The first window
// is emitted as soon as w ids are available; every following window drops the
// oldest id and appends the next one. A sequence shorter than w yields a
// single window holding the whole sequence, so every token is covered by at
// least one window.
func Slide(ids []int, w int) [][]int {
	if len(ids) == 0 || w <= 0 {
		return nil
	}
	first := w
	if len(ids) < first {
		first = len(ids)
	}
	out := make([][]int, 0, len(ids)-first+1)
	out = append(out, clone(ids[:first]))
	for i := first; i < len(ids); i++ {
		out = append(out, clone(ids[i-w+1:i+1]))
	}
	return out
}

// Batches splits windows into consecutive mini-batches of at most size
// windows, preserving order.
func Batches(windows [][]int, size int) [][][]int {
	if size <= 0 || len(windows) == 0 {
		return nil
	}
	out := make([][][]int, 0, (len(windows)+size-1)/size)
	for start := 0; start < len(windows); start += size {
		end := start + size
		if end > len(windows) {
			end = len(windows)
		}
		out = append(out, windows[start:end])
	}
	return out
}

func clone(ids []int) []int {
	c := make([]int, len(ids))
	copy(c, ids)
	return c
}
