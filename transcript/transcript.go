// Package transcript loads word-level conversation transcripts: the
// per-subject labels container produced upstream, and the per-conversation
// whitespace-delimited datum files used by the alternate loading path.
package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Word is one spoken word from the annotated transcript. Rows are immutable
// once loaded.
type Word struct {
	Word           string  `json:"word"`
	Onset          float64 `json:"onset"`
	Offset         float64 `json:"offset"`
	Speaker        string  `json:"speaker"`
	ConversationID int     `json:"conversation_id"`
	SentenceIdx    int     `json:"sentence_idx"`
	Sentence       string  `json:"sentence"`
	Accuracy       float64 `json:"accuracy,omitempty"`
}

type labelsContainer struct {
	Labels []Word `json:"labels"`
}

// LoadLabels reads the subject's labels container and returns the word table,
// optionally restricted to one conversation. conversationID zero means no
// filter.
func LoadLabels(path string, conversationID int) ([]Word, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("labels: open %s: %w", path, err)
	}
	defer f.Close()

	var container labelsContainer
	if err := json.NewDecoder(f).Decode(&container); err != nil {
		return nil, fmt.Errorf("labels decode: %w", err)
	}
	if conversationID == 0 {
		return container.Labels, nil
	}
	out := make([]Word, 0, len(container.Labels))
	for _, w := range container.Labels {
		if w.ConversationID == conversationID {
			out = append(out, w)
		}
	}
	return out, nil
}

// ExpectedConversations returns the number of conversation directories the
// subject must have. Subject 625 was recorded across 54 conversations, every
// other subject across 79.
func ExpectedConversations(subject string) int {
	if subject == "625" {
		return 54
	}
	return 79
}

// ListConversations returns the subject's conversation directory names in
// sorted order and validates the count against ExpectedConversations. The
// validation runs before any inference and aborts the run on mismatch.
func ListConversations(inputDir, subject string) ([]string, error) {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, fmt.Errorf("conversations: read %s: %w", inputDir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	if want := ExpectedConversations(subject); len(names) != want {
		return nil, fmt.Errorf("conversations: subject %s has %d conversation directories, want %d",
			subject, len(names), want)
	}
	return names, nil
}

// FindDatumFile locates the conversation's datum transcript under
// <inputDir>/<conversation>/misc/.
func FindDatumFile(inputDir, conversation string) (string, error) {
	pattern := filepath.Join(inputDir, conversation, "misc", "*datum*.txt")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("datum: glob %s: %w", pattern, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("datum: no transcript matching %s", pattern)
	}
	return matches[0], nil
}

// LoadDatum parses a whitespace-delimited conversation transcript with
// columns word, onset, offset, accuracy, speaker. Words are lowercased and
// trimmed; any word in exclude is dropped.
func LoadDatum(path string, exclude []string) ([]Word, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("datum: open %s: %w", path, err)
	}
	defer f.Close()

	excluded := make(map[string]struct{}, len(exclude))
	for _, w := range exclude {
		excluded[strings.ToLower(w)] = struct{}{}
	}

	var out []Word
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 5 {
			return nil, fmt.Errorf("datum: line %d has %d columns, want 5", line, len(fields))
		}
		word := strings.ToLower(strings.TrimSpace(fields[0]))
		if _, skip := excluded[word]; skip {
			continue
		}
		onset, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("datum: line %d onset: %w", line, err)
		}
		offset, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("datum: line %d offset: %w", line, err)
		}
		accuracy, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return nil, fmt.Errorf("datum: line %d accuracy: %w", line, err)
		}
		out = append(out, Word{
			Word:     word,
			Onset:    onset,
			Offset:   offset,
			Accuracy: accuracy,
			Speaker:  fields[4],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("datum: read %s: %w", path, err)
	}
	return out, nil
}
