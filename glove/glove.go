// Package glove loads a static word-vector table in the plain text format
// (one line per word: the word followed by its vector components).
package glove

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Dim is the only vector dimensionality the pipeline accepts.
const Dim = 50

// Table maps surface words to static vectors.
type Table struct {
	dim  int
	vecs map[string][]float64
}

// Load reads the vector file and validates every row against dim. Only
// 50-dimensional tables are supported.
func Load(path string, dim int) (*Table, error) {
	if dim != Dim {
		return nil, fmt.Errorf("glove: unsupported dimension %d", dim)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("glove: open vectors: %w", err)
	}
	defer f.Close()

	vecs := make(map[string][]float64)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != dim+1 {
			return nil, fmt.Errorf("glove: line %d has %d components, want %d", line, len(fields)-1, dim)
		}
		vec := make([]float64, dim)
		for i, fld := range fields[1:] {
			v, err := strconv.ParseFloat(fld, 64)
			if err != nil {
				return nil, fmt.Errorf("glove: line %d component %d: %w", line, i, err)
			}
			vec[i] = v
		}
		vecs[fields[0]] = vec
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("glove: read vectors: %w", err)
	}
	return &Table{dim: dim, vecs: vecs}, nil
}

// Vector returns the static vector for word, or nil when the word is not in
// the table. A nil result is the explicit missing value; callers propagate it
// rather than substituting anything.
func (t *Table) Vector(word string) []float64 {
	if t == nil {
		return nil
	}
	return t.vecs[word]
}

// Dim returns the table's vector dimensionality.
func (t *Table) Dim() int { return t.dim }

// Len returns the number of words in the table.
func (t *Table) Len() int { return len(t.vecs) }
