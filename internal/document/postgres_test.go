package document

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPGStore(db), mock
}

func TestPGCreateDocument(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("insert into documents").
		WithArgs(int64(1), int64(42), nil, "Purchase agreement",
			"<p>terms</p>", "[]", "buyer", "draft",
			sqlmock.AnyArg(), 0, "user-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	now := time.Now().UTC()
	doc := &Document{
		OrganizationID:  1,
		LeadID:          42,
		Title:           "Purchase agreement",
		RenderedContent: "<p>terms</p>",
		SignatureBlocks: "[]",
		ContractType:    ContractTypeBuyer,
		Status:          StatusDraft,
		CreatedByUserID: "user-1",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := store.CreateDocument(context.Background(), doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if doc.ID != 7 {
		t.Fatalf("id = %d, want 7", doc.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPGGetDocumentNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select .* from documents where id").
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := store.GetDocument(context.Background(), 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPGUpdateDocumentNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("update documents").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateDocument(context.Background(), &Document{ID: 99})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPGConsumeLink(t *testing.T) {
	store, mock := newMockStore(t)
	usedAt := time.Now().UTC()

	mock.ExpectExec("update signing_links").
		WithArgs("tok-1", usedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := store.ConsumeLink(context.Background(), "tok-1", usedAt)
	if err != nil || !ok {
		t.Fatalf("first consume: ok=%v err=%v", ok, err)
	}

	// Second consume matches no rows; the token still exists, so the caller
	// sees a clean "already used" rather than an error.
	mock.ExpectExec("update signing_links").
		WithArgs("tok-1", usedAt).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").
		WithArgs("tok-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	ok, err = store.ConsumeLink(context.Background(), "tok-1", usedAt)
	if err != nil || ok {
		t.Fatalf("second consume: ok=%v err=%v", ok, err)
	}

	// Unknown token.
	mock.ExpectExec("update signing_links").
		WithArgs("tok-x", usedAt).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").
		WithArgs("tok-x").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	if _, err := store.ConsumeLink(context.Background(), "tok-x", usedAt); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown token: err = %v, want ErrNotFound", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPGCreateSignatureUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("insert into document_signatures").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "document_signatures_document_id_signature_block_id_key"})

	err := store.CreateSignature(context.Background(), &Signature{
		ID:            "sig-rec-1",
		DocumentID:    7,
		BlockID:       "sig_abc",
		SignerType:    SignerTypeClient,
		SignerName:    "Jane",
		SignatureData: "data:image/png;base64,AA==",
		SignedAt:      time.Now().UTC(),
	})
	if !errors.Is(err, ErrAlreadySigned) {
		t.Fatalf("err = %v, want ErrAlreadySigned", err)
	}
}

func TestPGListSignatures(t *testing.T) {
	store, mock := newMockStore(t)
	signedAt := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "document_id", "signature_block_id", "signer_type", "signer_user_id",
		"signer_name", "signer_email", "signature_data", "signing_token",
		"ip_address", "user_agent", "signed_at",
	}).AddRow("sig-rec-1", int64(7), "sig_abc", "client", nil,
		"Jane", "jane@example.com", "data:image/png;base64,AA==", "tok-1",
		"203.0.113.9", "test-agent", signedAt)
	mock.ExpectQuery("select .* from document_signatures").
		WithArgs(int64(7)).
		WillReturnRows(rows)

	sigs, err := store.ListSignatures(context.Background(), 7)
	if err != nil {
		t.Fatalf("ListSignatures: %v", err)
	}
	if len(sigs) != 1 {
		t.Fatalf("sigs = %d, want 1", len(sigs))
	}
	got := sigs[0]
	if got.BlockID != "sig_abc" || got.SignerName != "Jane" || got.SignerUserID != "" {
		t.Fatalf("scan mismatch: %+v", got)
	}
}
