package document

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"leadsign.org/internal/pipeline"
	"leadsign.org/internal/sigblock"
)

func readyDocument(t *testing.T, svc *Service, blocks ...sigblock.Block) *Document {
	t.Helper()
	doc := createDraft(t, svc, blocks...)
	ready, err := svc.MarkReady(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("MarkReady: %v", err)
	}
	return ready
}

func TestIssueLinkMovesReadyToSent(t *testing.T) {
	svc, _, _ := newTestService(t)
	doc := readyDocument(t, svc, sigblock.New(100, 50))

	link, err := svc.IssueLink(context.Background(), doc.ID, "client@example.com", 7, "user-1")
	if err != nil {
		t.Fatalf("IssueLink: %v", err)
	}
	if link.Token == "" {
		t.Fatal("expected a token")
	}
	if link.ExpiresAt == nil {
		t.Fatal("expected an expiry")
	}

	got, err := svc.Get(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusSent {
		t.Fatalf("status = %s, want sent", got.Status)
	}
	want := "https://app.example.com/sign/" + link.Token
	if got.SigningURL != want {
		t.Fatalf("SigningURL = %q, want %q", got.SigningURL, want)
	}
}

func TestIssueLinkStateGuard(t *testing.T) {
	svc, _, _ := newTestService(t)
	doc := createDraft(t, svc, sigblock.New(100, 50))

	// Drafts cannot be sent out for signing.
	if _, err := svc.IssueLink(context.Background(), doc.ID, "", 0, "user-1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("draft: err = %v, want ErrInvalidState", err)
	}
}

func TestIssueLinkMultipleOutstanding(t *testing.T) {
	svc, _, _ := newTestService(t)
	doc := readyDocument(t, svc, sigblock.New(100, 50))

	first, err := svc.IssueLink(context.Background(), doc.ID, "a@example.com", 0, "user-1")
	if err != nil {
		t.Fatalf("first IssueLink: %v", err)
	}
	second, err := svc.IssueLink(context.Background(), doc.ID, "b@example.com", 0, "user-1")
	if err != nil {
		t.Fatalf("second IssueLink: %v", err)
	}
	if first.Token == second.Token {
		t.Fatal("tokens must be unique")
	}

	links, err := svc.ListLinks(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("ListLinks: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("links = %d, want 2", len(links))
	}
	// Both remain redeemable until one finish consumes its own.
	for _, l := range links {
		if _, err := svc.ViewByToken(context.Background(), l.Token); err != nil {
			t.Fatalf("ViewByToken(%s): %v", l.Token, err)
		}
	}
}

func TestIssueLinkNoExpiry(t *testing.T) {
	svc, _, _ := newTestService(t)
	doc := readyDocument(t, svc, sigblock.New(100, 50))

	link, err := svc.IssueLink(context.Background(), doc.ID, "", 0, "user-1")
	if err != nil {
		t.Fatalf("IssueLink: %v", err)
	}
	if link.ExpiresAt != nil {
		t.Fatalf("ExpiresAt = %v, want nil", link.ExpiresAt)
	}
}

func TestViewByToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	doc := readyDocument(t, svc, sigblock.New(100, 50), sigblock.New(400, 300))
	link, err := svc.IssueLink(context.Background(), doc.ID, "client@example.com", 7, "user-1")
	if err != nil {
		t.Fatalf("IssueLink: %v", err)
	}

	view, err := svc.ViewByToken(context.Background(), link.Token)
	if err != nil {
		t.Fatalf("ViewByToken: %v", err)
	}
	if view.DocumentID != doc.ID || view.DocumentTitle != doc.Title {
		t.Fatalf("view identity mismatch: %+v", view)
	}
	if !strings.Contains(view.RenderedContent, "terms") {
		t.Fatalf("content missing: %q", view.RenderedContent)
	}
	if len(view.Blocks) != 2 || len(view.Statuses) != 2 {
		t.Fatalf("blocks/statuses = %d/%d, want 2/2", len(view.Blocks), len(view.Statuses))
	}
	if view.AllSigned {
		t.Fatal("nothing signed yet")
	}
	if view.IntendedEmail != "client@example.com" {
		t.Fatalf("IntendedEmail = %q", view.IntendedEmail)
	}

	// Viewing is repeatable and never consumes the link.
	if _, err := svc.ViewByToken(context.Background(), link.Token); err != nil {
		t.Fatalf("second ViewByToken: %v", err)
	}
}

func TestViewByTokenUnknown(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.ViewByToken(context.Background(), "no-such-token"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestViewByTokenExpired(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewInMemory()
	svc := NewService(store, pipeline.NewMemory(), "https://app.example.com",
		WithClock(func() time.Time { return now }))

	doc := readyDocument(t, svc, sigblock.New(100, 50))
	link, err := svc.IssueLink(context.Background(), doc.ID, "", 3, "user-1")
	if err != nil {
		t.Fatalf("IssueLink: %v", err)
	}

	now = now.AddDate(0, 0, 4)
	if _, err := svc.ViewByToken(context.Background(), link.Token); !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
	// An expired link also refuses signing.
	if _, err := svc.SignBlock(context.Background(), link.Token, "sig_x", "Jane", "", "data:image/png;base64,AA==", RequestMeta{}); !errors.Is(err, ErrExpired) {
		t.Fatalf("sign: err = %v, want ErrExpired", err)
	}
}

func TestConsumedLinkRefusesRedemption(t *testing.T) {
	svc, store, _ := newTestService(t)
	doc := readyDocument(t, svc, sigblock.New(100, 50))
	link, err := svc.IssueLink(context.Background(), doc.ID, "", 0, "user-1")
	if err != nil {
		t.Fatalf("IssueLink: %v", err)
	}
	if _, err := store.ConsumeLink(context.Background(), link.Token, time.Now()); err != nil {
		t.Fatalf("ConsumeLink: %v", err)
	}

	if _, err := svc.ViewByToken(context.Background(), link.Token); !errors.Is(err, ErrAlreadyUsed) {
		t.Fatalf("view: err = %v, want ErrAlreadyUsed", err)
	}
	if _, err := svc.Finish(context.Background(), link.Token); !errors.Is(err, ErrAlreadyUsed) {
		t.Fatalf("finish: err = %v, want ErrAlreadyUsed", err)
	}
}
