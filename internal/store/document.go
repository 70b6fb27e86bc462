// Package store persists the canonical document and its sibling logs as
// local files: an atomically replaced JSON document plus append-only line
// logs. This layout is the external contract, not an implementation detail.
package store

import (
	"encoding/json"
	"errors"
	"os"
	"sync"

	"github.com/statetracker/statetracker/internal/domain"
)

// DocumentStore loads and saves the canonical document. Loads hand out fresh
// in-memory copies; saves replace the file atomically. In-process writers
// serialize read-modify-write cycles through Lock/Unlock.
type DocumentStore struct {
	path string
	wmu  sync.Mutex
}

func NewDocumentStore(path string) *DocumentStore {
	return &DocumentStore{path: path}
}

func (s *DocumentStore) Path() string { return s.path }

// Lock serializes in-process read-modify-write cycles. It is never held
// across external I/O other than the save itself.
func (s *DocumentStore) Lock() { s.wmu.Lock() }

func (s *DocumentStore) Unlock() { s.wmu.Unlock() }

// Load reads the document, bootstrapping a default one on first use.
func (s *DocumentStore) Load() (*domain.Document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		doc := domain.NewDocument()
		if err := s.Save(doc); err != nil {
			return nil, err
		}
		return doc, nil
	}
	if err != nil {
		return nil, err
	}

	var doc domain.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	normalize(&doc)
	return &doc, nil
}

// Save writes the document pretty-printed with a trailing newline via atomic
// replace.
func (s *DocumentStore) Save(doc *domain.Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, append(data, '\n'))
}

// normalize backfills maps and domain configs a hand-edited or older document
// may lack, so the rest of the engine never nil-checks.
func normalize(doc *domain.Document) {
	if doc.Domains == nil {
		doc.Domains = domain.DomainDefaults()
	} else {
		for name, cfg := range domain.DomainDefaults() {
			if _, ok := doc.Domains[name]; !ok {
				doc.Domains[name] = cfg
			}
		}
	}
	if doc.SourceReliability == nil {
		doc.SourceReliability = domain.SourceReliabilityDefaults()
	}
	if doc.Entities == nil {
		doc.Entities = map[string]*domain.EntityState{}
	}
	if doc.PendingConfirmations == nil {
		doc.PendingConfirmations = map[string]domain.PendingPrompt{}
	}
	if doc.Runtime.ProjectionHashes == nil {
		doc.Runtime.ProjectionHashes = map[string]string{}
	}
	if doc.Runtime.ProjectionMode == "" {
		doc.Runtime.ProjectionMode = domain.ProjectionModeLegacyString
	}
	if doc.Runtime.AdaptiveLearning.Mode == "" {
		doc.Runtime.AdaptiveLearning = domain.AdaptiveDefaults()
	}
}
