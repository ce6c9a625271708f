package document

import (
	"context"

	"leadsign.org/internal/sigblock"
)

// Completion derives per-block signing statuses for a document. Completion
// is never stored: it is recomputed from the block list and the recorded
// signatures on every read, so it survives crashes and concurrent writers
// without a counter to corrupt. A document with zero blocks reports
// all-signed vacuously.
func (s *Service) Completion(ctx context.Context, doc *Document) ([]BlockStatus, bool, error) {
	statuses, allSigned, _, err := s.completionCounts(ctx, doc)
	return statuses, allSigned, err
}

func (s *Service) completionCounts(ctx context.Context, doc *Document) ([]BlockStatus, bool, int, error) {
	blocks := sigblock.Deserialize(doc.SignatureBlocks)
	sigs, err := s.store.ListSignatures(ctx, doc.ID)
	if err != nil {
		return nil, false, 0, err
	}
	byBlock := make(map[string]*Signature, len(sigs))
	for _, sig := range sigs {
		if _, ok := byBlock[sig.BlockID]; !ok {
			byBlock[sig.BlockID] = sig
		}
	}

	statuses := make([]BlockStatus, 0, len(blocks))
	remaining := 0
	for _, b := range blocks {
		st := BlockStatus{BlockID: b.ID}
		if sig, ok := byBlock[b.ID]; ok {
			st.IsSigned = true
			st.SignatureData = sig.SignatureData
			st.SignerName = sig.SignerName
			at := sig.SignedAt
			st.SignedAt = &at
		} else {
			remaining++
		}
		statuses = append(statuses, st)
	}
	return statuses, remaining == 0, remaining, nil
}

// firstUnsigned returns the first block in list order with no signature.
// Signatures against block ids no longer in the list are ignored.
func firstUnsigned(blocks []sigblock.Block, sigs []*Signature) (sigblock.Block, bool) {
	signed := make(map[string]bool, len(sigs))
	for _, sig := range sigs {
		signed[sig.BlockID] = true
	}
	for _, b := range blocks {
		if !signed[b.ID] {
			return b, true
		}
	}
	return sigblock.Block{}, false
}
