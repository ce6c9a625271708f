package document

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store describes the persistence operations the signing workflow needs.
// Domain rules (state machine, completion, link validation) live in Service;
// stores only guarantee the two write-side invariants that must hold under
// concurrency: at most one signature per (document, block), and a single
// irreversible is_used flip per link.
type Store interface {
	CreateDocument(ctx context.Context, d *Document) error
	GetDocument(ctx context.Context, id int64) (*Document, error)
	UpdateDocument(ctx context.Context, d *Document) error
	ListDocuments(ctx context.Context, leadID int64) ([]*Document, error)
	CountByLeadAndType(ctx context.Context, leadID int64, contractType string) (int, error)

	CreateLink(ctx context.Context, l *Link) error
	GetLinkByToken(ctx context.Context, token string) (*Link, error)
	ListLinks(ctx context.Context, documentID int64) ([]*Link, error)
	// ConsumeLink flips is_used atomically. Returns false when the link was
	// already used, so a second concurrent finish observes the flip.
	ConsumeLink(ctx context.Context, token string, usedAt time.Time) (bool, error)

	// CreateSignature fails with ErrAlreadySigned when the block already
	// carries a signature.
	CreateSignature(ctx context.Context, s *Signature) error
	ListSignatures(ctx context.Context, documentID int64) ([]*Signature, error)
}

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu    sync.Mutex
	seq   int64
	docs  map[int64]*Document
	links map[string]*Link // token -> link
	sigs  map[int64][]*Signature
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		docs:  make(map[int64]*Document),
		links: make(map[string]*Link),
		sigs:  make(map[int64][]*Signature),
	}
}

func (s *InMemory) CreateDocument(ctx context.Context, d *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	d.ID = s.seq
	cp := *d
	s.docs[d.ID] = &cp
	return nil
}

func (s *InMemory) GetDocument(ctx context.Context, id int64) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *InMemory) UpdateDocument(ctx context.Context, d *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[d.ID]; !ok {
		return ErrNotFound
	}
	cp := *d
	s.docs[d.ID] = &cp
	return nil
}

func (s *InMemory) ListDocuments(ctx context.Context, leadID int64) ([]*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Document
	for _, d := range s.docs {
		if leadID != 0 && d.LeadID != leadID {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) CountByLeadAndType(ctx context.Context, leadID int64, contractType string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.docs {
		if d.LeadID == leadID && d.ContractType == contractType {
			n++
		}
	}
	return n, nil
}

func (s *InMemory) CreateLink(ctx context.Context, l *Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	s.links[l.Token] = &cp
	return nil
}

func (s *InMemory) GetLinkByToken(ctx context.Context, token string) (*Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *InMemory) ListLinks(ctx context.Context, documentID int64) ([]*Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Link
	for _, l := range s.links {
		if l.DocumentID == documentID {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) ConsumeLink(ctx context.Context, token string, usedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[token]
	if !ok {
		return false, ErrNotFound
	}
	if l.IsUsed {
		return false, nil
	}
	l.IsUsed = true
	t := usedAt
	l.UsedAt = &t
	return true, nil
}

func (s *InMemory) CreateSignature(ctx context.Context, sig *Signature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sigs[sig.DocumentID] {
		if existing.BlockID == sig.BlockID {
			return ErrAlreadySigned
		}
	}
	cp := *sig
	s.sigs[sig.DocumentID] = append(s.sigs[sig.DocumentID], &cp)
	return nil
}

func (s *InMemory) ListSignatures(ctx context.Context, documentID int64) ([]*Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Signature, 0, len(s.sigs[documentID]))
	for _, sig := range s.sigs[documentID] {
		cp := *sig
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SignedAt.Before(out[j].SignedAt) })
	return out, nil
}
