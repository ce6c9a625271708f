package document

import (
	"errors"
	"time"
)

// Status is the document lifecycle state. Transitions only move forward:
// draft -> ready -> sent -> signed. Uploaded documents sit outside the
// signing workflow entirely.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusReady    Status = "ready"
	StatusSent     Status = "sent"
	StatusSigned   Status = "signed"
	StatusUploaded Status = "uploaded"
)

// Signable reports whether signing links may be issued and signatures
// accepted in this state.
func (s Status) Signable() bool {
	return s == StatusReady || s == StatusSent
}

// Editable reports whether content and block edits are still allowed.
func (s Status) Editable() bool {
	return s == StatusDraft || s == StatusReady || s == StatusSent
}

// Contract types. At most one document of each type may exist per lead.
const (
	ContractTypeBuyer  = "buyer"
	ContractTypeSeller = "seller"
	ContractTypeLawyer = "lawyer"
)

// ValidContractType accepts the known contract types or empty (untyped).
func ValidContractType(ct string) bool {
	switch ct {
	case "", ContractTypeBuyer, ContractTypeSeller, ContractTypeLawyer:
		return true
	}
	return false
}

// Signer channels recorded on signatures.
const (
	SignerTypeClient   = "client"
	SignerTypeInternal = "internal"
)

// Document is an instance of a template bound to a lead. RenderedContent is
// an HTML snapshot taken at creation time; the document never re-reads its
// template. SignatureBlocks holds the serialized block list (see sigblock).
type Document struct {
	ID              int64      `json:"id"`
	OrganizationID  int64      `json:"organization_id"`
	LeadID          int64      `json:"lead_id"`
	TemplateID      *int64     `json:"template_id,omitempty"` // nil for uploads
	Title           string     `json:"title"`
	RenderedContent string     `json:"rendered_content"`
	SignatureBlocks string     `json:"signature_blocks"`
	ContractType    string     `json:"contract_type,omitempty"`
	Status          Status     `json:"status"`
	SigningURL      string     `json:"signing_url,omitempty"`
	ContentHeight   int        `json:"content_height,omitempty"` // last observed rendered height, px
	CreatedByUserID string     `json:"created_by_user_id"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Link is a tokenized capability granting its bearer the right to sign one
// document. The token is the sole credential; the intended email is
// informational and not enforced at redemption.
type Link struct {
	ID                  string     `json:"id"`
	DocumentID          int64      `json:"document_id"`
	Token               string     `json:"token"`
	IntendedSignerEmail string     `json:"intended_signer_email,omitempty"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
	IsUsed              bool       `json:"is_used"`
	CreatedByUserID     string     `json:"created_by_user_id"`
	CreatedAt           time.Time  `json:"created_at"`
	UsedAt              *time.Time `json:"used_at,omitempty"`
}

// Expired reports whether the link is past its expiry at the given instant.
// A nil ExpiresAt never expires.
func (l *Link) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// Signature is one completed signature event, keyed to a signature block.
type Signature struct {
	ID            string    `json:"id"`
	DocumentID    int64     `json:"document_id"`
	BlockID       string    `json:"signature_block_id"`
	SignerType    string    `json:"signer_type"`
	SignerUserID  string    `json:"signer_user_id,omitempty"` // internal only
	SignerName    string    `json:"signer_name"`
	SignerEmail   string    `json:"signer_email,omitempty"`
	SignatureData string    `json:"signature_data"`
	SigningToken  string    `json:"signing_token,omitempty"` // client only
	IPAddress     string    `json:"ip_address,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	SignedAt      time.Time `json:"signed_at"`
}

// BlockStatus is the derived per-block signing state, computed by joining a
// document's block list against its signature records.
type BlockStatus struct {
	BlockID       string     `json:"block_id"`
	IsSigned      bool       `json:"is_signed"`
	SignatureData string     `json:"signature_data,omitempty"`
	SignerName    string     `json:"signer_name,omitempty"`
	SignedAt      *time.Time `json:"signed_at,omitempty"`
}

var (
	// ErrNotFound covers unknown documents, tokens and block ids.
	ErrNotFound = errors.New("not found")
	// ErrExpired marks a signing link past its expiry.
	ErrExpired = errors.New("signing link expired")
	// ErrAlreadyUsed marks a signing link consumed by a finish call.
	ErrAlreadyUsed = errors.New("signing link already used")
	// ErrAlreadySigned marks a block (or internal signer type) that already
	// carries a signature.
	ErrAlreadySigned = errors.New("already signed")
	// ErrValidationFailed marks malformed caller input.
	ErrValidationFailed = errors.New("validation failed")
	// ErrInvalidState marks an action the document status forbids.
	ErrInvalidState = errors.New("invalid document state")
	// ErrNotReady marks a finish call before every block is signed.
	ErrNotReady = errors.New("not all blocks signed")
	// ErrDuplicateContractType marks a second document of a contract type
	// already present on the lead.
	ErrDuplicateContractType = errors.New("lead already has a document of this contract type")
)
