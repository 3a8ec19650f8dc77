package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Input is one fuzz input. Path may be empty, in which case the harness
// writes Data to a temporary file for the iteration.
type Input struct {
	ID   string
	Path string
	Data []byte
}

// Corpus is an ordered set of inputs.
type Corpus []Input

// LoadCorpus reads every regular, non-hidden file of dir, sorted by name.
func LoadCorpus(dir string) (Corpus, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}

	var corpus Corpus
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read input %s: %w", e.Name(), err)
		}
		corpus = append(corpus, Input{ID: e.Name(), Path: path, Data: data})
	}
	sort.Slice(corpus, func(i, j int) bool { return corpus[i].ID < corpus[j].ID })

	if len(corpus) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoInputs, dir)
	}
	return corpus, nil
}

// FromBytes wraps in-memory inputs, identified by position.
func FromBytes(data ...[]byte) Corpus {
	corpus := make(Corpus, len(data))
	for i, d := range data {
		corpus[i] = Input{ID: fmt.Sprintf("mem-%06d", i), Data: d}
	}
	return corpus
}
