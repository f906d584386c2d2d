package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrNoSavedIndex is returned by PersistentIndex.Load when the path holds no
// saved index.
var ErrNoSavedIndex = errors.New("no saved lexical index")

// savedCorpus is stored beside the terms of a persistent index so that Load
// can restore documents and statistics without the corpus.
type savedCorpus struct {
	BuiltAt      time.Time       `json:"built_at"`
	Skipped      int             `json:"skipped"`
	AvgDocLength float64         `json:"avg_doc_length"`
	Documents    []savedDocument `json:"documents"`
}

type savedDocument struct {
	Pos      int      `json:"pos"`
	Document Document `json:"document"`
}

func encodeSavedCorpus(docs map[int]Document, skipped int, avgDL float64, builtAt time.Time) ([]byte, error) {
	saved := savedCorpus{
		BuiltAt:      builtAt.UTC(),
		Skipped:      skipped,
		AvgDocLength: avgDL,
		Documents:    make([]savedDocument, 0, len(docs)),
	}
	for pos, d := range docs {
		saved.Documents = append(saved.Documents, savedDocument{Pos: pos, Document: d})
	}
	sort.Slice(saved.Documents, func(i, j int) bool { return saved.Documents[i].Pos < saved.Documents[j].Pos })
	return json.Marshal(saved)
}

func decodeSavedCorpus(data []byte) (savedCorpus, map[int]Document, error) {
	var saved savedCorpus
	if err := json.Unmarshal(data, &saved); err != nil {
		return saved, nil, fmt.Errorf("failed to decode saved corpus: %w", err)
	}
	docs := make(map[int]Document, len(saved.Documents))
	for _, d := range saved.Documents {
		docs[d.Pos] = d.Document
	}
	return saved, docs, nil
}
