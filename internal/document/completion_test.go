package document

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"leadsign.org/internal/pipeline"
	"leadsign.org/internal/sigblock"
)

func sentWithLink(t *testing.T, svc *Service, blocks ...sigblock.Block) (*Document, *Link) {
	t.Helper()
	doc := readyDocument(t, svc, blocks...)
	link, err := svc.IssueLink(context.Background(), doc.ID, "client@example.com", 0, "user-1")
	if err != nil {
		t.Fatalf("IssueLink: %v", err)
	}
	return doc, link
}

func TestSignBlockProgress(t *testing.T) {
	svc, _, _ := newTestService(t)
	b1, b2 := sigblock.New(100, 50), sigblock.New(400, 300)
	_, link := sentWithLink(t, svc, b1, b2)

	res, err := svc.SignBlock(context.Background(), link.Token, b1.ID, "Jane Roe", "jane@example.com", "iVBORw0KGgo=", RequestMeta{IPAddress: "203.0.113.9", UserAgent: "test"})
	if err != nil {
		t.Fatalf("SignBlock: %v", err)
	}
	if res.AllSigned || res.Remaining != 1 {
		t.Fatalf("res = %+v, want one remaining", res)
	}

	res, err = svc.SignBlock(context.Background(), link.Token, b2.ID, "Jane Roe", "", "data:image/png;base64,AA==", RequestMeta{})
	if err != nil {
		t.Fatalf("SignBlock 2: %v", err)
	}
	if !res.AllSigned || res.Remaining != 0 {
		t.Fatalf("res = %+v, want all signed", res)
	}
}

func TestSignBlockNormalizesImageData(t *testing.T) {
	svc, store, _ := newTestService(t)
	b := sigblock.New(100, 50)
	doc, link := sentWithLink(t, svc, b)

	if _, err := svc.SignBlock(context.Background(), link.Token, b.ID, "Jane", "", "iVBORw0KGgo=", RequestMeta{}); err != nil {
		t.Fatalf("SignBlock: %v", err)
	}
	sigs, err := store.ListSignatures(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("ListSignatures: %v", err)
	}
	if !strings.HasPrefix(sigs[0].SignatureData, "data:image/png;base64,") {
		t.Fatalf("data not normalized: %q", sigs[0].SignatureData[:30])
	}
}

func TestSignBlockAtMostOnce(t *testing.T) {
	svc, _, _ := newTestService(t)
	b := sigblock.New(100, 50)
	_, link := sentWithLink(t, svc, b, sigblock.New(400, 300))

	if _, err := svc.SignBlock(context.Background(), link.Token, b.ID, "Jane", "", "AA==", RequestMeta{}); err != nil {
		t.Fatalf("first sign: %v", err)
	}
	// A replay of the same block is rejected, and the first signature stays.
	_, err := svc.SignBlock(context.Background(), link.Token, b.ID, "Mallory", "", "BB==", RequestMeta{})
	if !errors.Is(err, ErrAlreadySigned) {
		t.Fatalf("err = %v, want ErrAlreadySigned", err)
	}

	view, err := svc.ViewByToken(context.Background(), link.Token)
	if err != nil {
		t.Fatalf("ViewByToken: %v", err)
	}
	st, found := view.Statuses[0], false
	for _, s := range view.Statuses {
		if s.BlockID == b.ID {
			st, found = s, true
		}
	}
	if !found || st.SignerName != "Jane" {
		t.Fatalf("first signature lost: %+v", st)
	}
}

func TestSignBlockValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	b := sigblock.New(100, 50)
	_, link := sentWithLink(t, svc, b)
	ctx := context.Background()

	if _, err := svc.SignBlock(ctx, link.Token, b.ID, "  ", "", "AA==", RequestMeta{}); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("blank name: err = %v, want ErrValidationFailed", err)
	}
	if _, err := svc.SignBlock(ctx, link.Token, b.ID, "Jane", "", "", RequestMeta{}); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("missing image: err = %v, want ErrValidationFailed", err)
	}
	if _, err := svc.SignBlock(ctx, link.Token, "sig_missing", "Jane", "", "AA==", RequestMeta{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown block: err = %v, want ErrNotFound", err)
	}
}

func TestFinishRequiresAllBlocksSigned(t *testing.T) {
	svc, _, _ := newTestService(t)
	b1, b2 := sigblock.New(100, 50), sigblock.New(400, 300)
	_, link := sentWithLink(t, svc, b1, b2)

	if _, err := svc.SignBlock(context.Background(), link.Token, b1.ID, "Jane", "", "AA==", RequestMeta{}); err != nil {
		t.Fatalf("SignBlock: %v", err)
	}
	if _, err := svc.Finish(context.Background(), link.Token); !errors.Is(err, ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
	// The failed finish must not have consumed the link.
	if _, err := svc.ViewByToken(context.Background(), link.Token); err != nil {
		t.Fatalf("link consumed by failed finish: %v", err)
	}
}

func TestFinishCompletesDocument(t *testing.T) {
	svc, _, pipe := newTestService(t)
	b := sigblock.New(100, 50)
	doc, link := sentWithLink(t, svc, b)

	if _, err := svc.SignBlock(context.Background(), link.Token, b.ID, "Jane", "", "AA==", RequestMeta{}); err != nil {
		t.Fatalf("SignBlock: %v", err)
	}
	res, err := svc.Finish(context.Background(), link.Token)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if res.Status != StatusSigned {
		t.Fatalf("status = %s, want signed", res.Status)
	}

	got, err := svc.Get(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CompletedAt == nil {
		t.Fatal("CompletedAt not set")
	}
	stage, ok := pipe.StageOf(doc.LeadID)
	if !ok || stage != pipeline.StageBuyerSigned {
		t.Fatalf("stage = %+v (%v), want buyer signed", stage, ok)
	}

	// Finishing is terminal for the link.
	if _, err := svc.Finish(context.Background(), link.Token); !errors.Is(err, ErrAlreadyUsed) {
		t.Fatalf("second finish: err = %v, want ErrAlreadyUsed", err)
	}
}

func TestFinishZeroBlocks(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, link := sentWithLink(t, svc)

	if _, err := svc.Finish(context.Background(), link.Token); !errors.Is(err, ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
}

func TestFinishRace(t *testing.T) {
	svc, _, _ := newTestService(t)
	b := sigblock.New(100, 50)
	_, link := sentWithLink(t, svc, b)
	if _, err := svc.SignBlock(context.Background(), link.Token, b.ID, "Jane", "", "AA==", RequestMeta{}); err != nil {
		t.Fatalf("SignBlock: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.Finish(context.Background(), link.Token)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyUsed):
		case errors.Is(err, ErrInvalidState):
			// A loser that read the document after the winner completed it.
		default:
			t.Fatalf("unexpected finish error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}
}

func TestVacuousCompletionDisplay(t *testing.T) {
	svc, _, _ := newTestService(t)
	doc, link := sentWithLink(t, svc)

	view, err := svc.ViewByToken(context.Background(), link.Token)
	if err != nil {
		t.Fatalf("ViewByToken: %v", err)
	}
	if !view.AllSigned || len(view.Statuses) != 0 {
		t.Fatalf("zero-block view = %+v, want vacuously all signed", view)
	}
	if doc.Status != StatusSent {
		t.Fatalf("status = %s", doc.Status)
	}
}

func TestSignInternal(t *testing.T) {
	svc, store, pipe := newTestService(t)
	b1, b2 := sigblock.New(100, 50), sigblock.New(400, 300)
	doc := readyDocument(t, svc, b1, b2)
	ctx := context.Background()

	res, err := svc.SignInternal(ctx, doc.ID, "user-9", "Agent Smith", "smith@example.com", "AA==", RequestMeta{IPAddress: "10.0.0.1"})
	if err != nil {
		t.Fatalf("SignInternal: %v", err)
	}
	if res.IsCompleted {
		t.Fatal("one of two blocks signed; must not complete")
	}

	// The first unsigned block was picked server-side.
	sigs, err := store.ListSignatures(ctx, doc.ID)
	if err != nil {
		t.Fatalf("ListSignatures: %v", err)
	}
	if len(sigs) != 1 || sigs[0].BlockID != b1.ID || sigs[0].SignerType != SignerTypeInternal {
		t.Fatalf("sigs = %+v", sigs)
	}
	if sigs[0].SignerUserID != "user-9" {
		t.Fatalf("SignerUserID = %q", sigs[0].SignerUserID)
	}

	// One internal signature per document.
	if _, err := svc.SignInternal(ctx, doc.ID, "user-9", "Agent Smith", "", "AA==", RequestMeta{}); !errors.Is(err, ErrAlreadySigned) {
		t.Fatalf("second internal: err = %v, want ErrAlreadySigned", err)
	}

	if _, ok := pipe.StageOf(doc.LeadID); ok {
		t.Fatal("pipeline advanced before completion")
	}
}

func TestSignInternalCompletes(t *testing.T) {
	svc, _, pipe := newTestService(t)
	b := sigblock.New(100, 50)
	doc := readyDocument(t, svc, b)

	res, err := svc.SignInternal(context.Background(), doc.ID, "user-9", "Agent Smith", "", "AA==", RequestMeta{})
	if err != nil {
		t.Fatalf("SignInternal: %v", err)
	}
	if !res.IsCompleted || res.NewStatus != StatusSigned {
		t.Fatalf("res = %+v, want completed signed", res)
	}
	if stage, ok := pipe.StageOf(doc.LeadID); !ok || stage != pipeline.StageBuyerSigned {
		t.Fatalf("stage = %+v (%v)", stage, ok)
	}
}

func TestCompletionIgnoresOrphanSignatures(t *testing.T) {
	svc, store, _ := newTestService(t)
	b1, b2 := sigblock.New(100, 50), sigblock.New(400, 300)
	doc, link := sentWithLink(t, svc, b1, b2)
	ctx := context.Background()

	if _, err := svc.SignBlock(ctx, link.Token, b1.ID, "Jane", "", "AA==", RequestMeta{}); err != nil {
		t.Fatalf("SignBlock: %v", err)
	}
	// Editor removes the unsigned block; the orphaned signature on a removed
	// block must not be required or counted.
	next := sigblock.Serialize([]sigblock.Block{b2})
	if _, _, err := svc.Update(ctx, doc.ID, UpdateDocumentInput{SignatureBlocks: &next}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	statuses, allSigned, err := svc.Completion(ctx, got)
	if err != nil {
		t.Fatalf("Completion: %v", err)
	}
	if len(statuses) != 1 || statuses[0].BlockID != b2.ID || statuses[0].IsSigned {
		t.Fatalf("statuses = %+v", statuses)
	}
	if allSigned {
		t.Fatal("remaining block is unsigned")
	}
}
