package document

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgErrUniqueViolation = "23505"

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. The two write-side invariants
// are delegated to the schema: a unique index on
// document_signatures(document_id, signature_block_id) and a conditional
// update on signing_links.is_used.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) CreateDocument(ctx context.Context, d *Document) error {
	row := s.db.QueryRowContext(ctx, `
		insert into documents (organization_id, lead_id, template_id, title,
			rendered_content, signature_blocks, contract_type, status,
			signing_url, content_height, created_by_user_id, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		returning id
	`, d.OrganizationID, d.LeadID, d.TemplateID, d.Title,
		d.RenderedContent, d.SignatureBlocks, nullIfEmpty(d.ContractType), string(d.Status),
		nullIfEmpty(d.SigningURL), d.ContentHeight, d.CreatedByUserID, d.CreatedAt, d.UpdatedAt)
	return row.Scan(&d.ID)
}

const documentColumns = `id, organization_id, lead_id, template_id, title,
	rendered_content, signature_blocks, contract_type, status, signing_url,
	content_height, created_by_user_id, created_at, updated_at, completed_at`

func scanDocument(row interface{ Scan(...any) error }) (*Document, error) {
	var (
		d            Document
		status       string
		blocks       sql.NullString
		contractType sql.NullString
		signingURL   sql.NullString
	)
	err := row.Scan(&d.ID, &d.OrganizationID, &d.LeadID, &d.TemplateID, &d.Title,
		&d.RenderedContent, &blocks, &contractType, &status, &signingURL,
		&d.ContentHeight, &d.CreatedByUserID, &d.CreatedAt, &d.UpdatedAt, &d.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.SignatureBlocks = blocks.String
	d.ContractType = contractType.String
	d.Status = Status(status)
	d.SigningURL = signingURL.String
	return &d, nil
}

func (s *PGStore) GetDocument(ctx context.Context, id int64) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+documentColumns+` from documents where id = $1`, id)
	return scanDocument(row)
}

func (s *PGStore) UpdateDocument(ctx context.Context, d *Document) error {
	res, err := s.db.ExecContext(ctx, `
		update documents
		set title = $2, rendered_content = $3, signature_blocks = $4,
			status = $5, signing_url = $6, content_height = $7,
			updated_at = $8, completed_at = $9
		where id = $1
	`, d.ID, d.Title, d.RenderedContent, d.SignatureBlocks,
		string(d.Status), nullIfEmpty(d.SigningURL), d.ContentHeight,
		d.UpdatedAt, d.CompletedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) ListDocuments(ctx context.Context, leadID int64) ([]*Document, error) {
	query := `select ` + documentColumns + ` from documents order by id asc`
	args := []any{}
	if leadID != 0 {
		query = `select ` + documentColumns + ` from documents where lead_id = $1 order by id asc`
		args = append(args, leadID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PGStore) CountByLeadAndType(ctx context.Context, leadID int64, contractType string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`select count(*) from documents where lead_id = $1 and contract_type = $2`,
		leadID, contractType).Scan(&n)
	return n, err
}

func (s *PGStore) CreateLink(ctx context.Context, l *Link) error {
	_, err := s.db.ExecContext(ctx, `
		insert into signing_links (id, document_id, token, intended_signer_email,
			expires_at, is_used, created_by_user_id, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, l.ID, l.DocumentID, l.Token, nullIfEmpty(l.IntendedSignerEmail),
		l.ExpiresAt, l.IsUsed, l.CreatedByUserID, l.CreatedAt)
	return err
}

const linkColumns = `id, document_id, token, intended_signer_email, expires_at,
	is_used, created_by_user_id, created_at, used_at`

func scanLink(row interface{ Scan(...any) error }) (*Link, error) {
	var (
		l     Link
		email sql.NullString
	)
	err := row.Scan(&l.ID, &l.DocumentID, &l.Token, &email, &l.ExpiresAt,
		&l.IsUsed, &l.CreatedByUserID, &l.CreatedAt, &l.UsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	l.IntendedSignerEmail = email.String
	return &l, nil
}

func (s *PGStore) GetLinkByToken(ctx context.Context, token string) (*Link, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+linkColumns+` from signing_links where token = $1`, token)
	return scanLink(row)
}

func (s *PGStore) ListLinks(ctx context.Context, documentID int64) ([]*Link, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+linkColumns+` from signing_links where document_id = $1 order by created_at asc`,
		documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PGStore) ConsumeLink(ctx context.Context, token string, usedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update signing_links
		set is_used = true, used_at = $2
		where token = $1 and is_used = false
	`, token, usedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Distinguish an already-used link from an unknown token.
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`select exists(select 1 from signing_links where token = $1)`, token).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, ErrNotFound
		}
		return false, nil
	}
	return true, nil
}

func (s *PGStore) CreateSignature(ctx context.Context, sig *Signature) error {
	_, err := s.db.ExecContext(ctx, `
		insert into document_signatures (id, document_id, signature_block_id,
			signer_type, signer_user_id, signer_name, signer_email,
			signature_data, signing_token, ip_address, user_agent, signed_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, sig.ID, sig.DocumentID, sig.BlockID, sig.SignerType,
		nullIfEmpty(sig.SignerUserID), sig.SignerName, nullIfEmpty(sig.SignerEmail),
		sig.SignatureData, nullIfEmpty(sig.SigningToken), nullIfEmpty(sig.IPAddress),
		nullIfEmpty(sig.UserAgent), sig.SignedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return ErrAlreadySigned
	}
	return err
}

func (s *PGStore) ListSignatures(ctx context.Context, documentID int64) ([]*Signature, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, document_id, signature_block_id, signer_type, signer_user_id,
			signer_name, signer_email, signature_data, signing_token,
			ip_address, user_agent, signed_at
		from document_signatures
		where document_id = $1
		order by signed_at asc
	`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Signature
	for rows.Next() {
		var (
			sig          Signature
			userID       sql.NullString
			email        sql.NullString
			signingToken sql.NullString
			ip           sql.NullString
			ua           sql.NullString
		)
		if err := rows.Scan(&sig.ID, &sig.DocumentID, &sig.BlockID, &sig.SignerType,
			&userID, &sig.SignerName, &email, &sig.SignatureData, &signingToken,
			&ip, &ua, &sig.SignedAt); err != nil {
			return nil, err
		}
		sig.SignerUserID = userID.String
		sig.SignerEmail = email.String
		sig.SigningToken = signingToken.String
		sig.IPAddress = ip.String
		sig.UserAgent = ua.String
		out = append(out, &sig)
	}
	return out, rows.Err()
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
