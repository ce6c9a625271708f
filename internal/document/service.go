package document

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"leadsign.org/internal/ids"
	"leadsign.org/internal/layout"
	"leadsign.org/internal/obs"
	"leadsign.org/internal/pipeline"
	"leadsign.org/internal/sigblock"
	"leadsign.org/internal/stream"
)

// Service implements the e-signature workflow over a Store. All state
// machine, link lifecycle and completion semantics live here so the
// in-memory and PostgreSQL stores share one set of rules.
type Service struct {
	store    Store
	pipeline pipeline.Advancer
	events   *stream.Stream
	baseURL  string
	now      func() time.Time

	pageMu sync.Mutex
	pages  map[int64]*layout.Estimator
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithEvents publishes signing activity to the given stream.
func WithEvents(st *stream.Stream) Option {
	return func(s *Service) {
		s.events = st
	}
}

// NewService constructs the workflow service. baseURL is the public origin
// used to build absolute signing URLs.
func NewService(store Store, adv pipeline.Advancer, baseURL string, opts ...Option) *Service {
	s := &Service{
		store:    store,
		pipeline: adv,
		baseURL:  strings.TrimRight(baseURL, "/"),
		now:      time.Now,
		pages:    make(map[int64]*layout.Estimator),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateDocumentInput carries everything needed to instantiate a document.
// Blocks arrive serialized (the template snapshot format); they are
// normalized through sigblock on the way in.
type CreateDocumentInput struct {
	OrganizationID  int64
	LeadID          int64
	TemplateID      *int64
	Title           string
	RenderedContent string
	SignatureBlocks string
	ContractType    string
	CreatedByUserID string
	Uploaded        bool
}

// CreateDocument snapshots template content and blocks into a new document.
// A second document of an already-present contract type on the same lead is
// rejected.
func (s *Service) CreateDocument(ctx context.Context, in CreateDocumentInput) (*Document, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidationFailed)
	}
	if !ValidContractType(in.ContractType) {
		return nil, fmt.Errorf("%w: unknown contract type %q", ErrValidationFailed, in.ContractType)
	}
	if in.LeadID == 0 {
		return nil, fmt.Errorf("%w: lead is required", ErrValidationFailed)
	}
	if in.ContractType != "" {
		n, err := s.store.CountByLeadAndType(ctx, in.LeadID, in.ContractType)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			return nil, ErrDuplicateContractType
		}
	}

	status := StatusDraft
	if in.Uploaded {
		status = StatusUploaded
	}
	now := s.now().UTC()
	doc := &Document{
		OrganizationID:  in.OrganizationID,
		LeadID:          in.LeadID,
		TemplateID:      in.TemplateID,
		Title:           strings.TrimSpace(in.Title),
		RenderedContent: in.RenderedContent,
		SignatureBlocks: sigblock.Serialize(sigblock.Deserialize(in.SignatureBlocks)),
		ContractType:    in.ContractType,
		Status:          status,
		CreatedByUserID: in.CreatedByUserID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Get returns a document by id.
func (s *Service) Get(ctx context.Context, id int64) (*Document, error) {
	return s.store.GetDocument(ctx, id)
}

// List returns documents, optionally filtered by lead (0 = all).
func (s *Service) List(ctx context.Context, leadID int64) ([]*Document, error) {
	return s.store.ListDocuments(ctx, leadID)
}

// UpdateDocumentInput is a partial edit. Nil fields are left untouched; the
// block list is replaced wholesale (removal is absence from the next list).
type UpdateDocumentInput struct {
	Title           *string
	RenderedContent *string
	SignatureBlocks *string
	ContentHeight   *int
}

// Update applies a last-write-wins edit. Two concurrent editors overwrite
// each other; there is no version counter (known gap, kept for parity with
// the editing surface). Returns advisory placement warnings: ids of blocks
// whose resolved position crosses a page-break gap. Blocks are never moved.
func (s *Service) Update(ctx context.Context, id int64, in UpdateDocumentInput) (*Document, []string, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !doc.Status.Editable() {
		return nil, nil, fmt.Errorf("%w: cannot edit a %s document", ErrInvalidState, doc.Status)
	}
	if in.Title != nil {
		if strings.TrimSpace(*in.Title) == "" {
			return nil, nil, fmt.Errorf("%w: title is required", ErrValidationFailed)
		}
		doc.Title = strings.TrimSpace(*in.Title)
	}
	if in.RenderedContent != nil {
		doc.RenderedContent = *in.RenderedContent
	}
	if in.SignatureBlocks != nil {
		doc.SignatureBlocks = sigblock.Serialize(sigblock.Deserialize(*in.SignatureBlocks))
	}
	if in.ContentHeight != nil && *in.ContentHeight > 0 {
		doc.ContentHeight = *in.ContentHeight
	}
	doc.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		return nil, nil, err
	}
	s.observePages(doc.ID, doc.ContentHeight)
	warnings := layout.OutOfBounds(sigblock.Deserialize(doc.SignatureBlocks), doc.ContentHeight)
	return doc, warnings, nil
}

// observePages feeds the document's page estimator after a content mutation
// and returns the current page count.
func (s *Service) observePages(docID int64, contentHeight int) int {
	s.pageMu.Lock()
	est, ok := s.pages[docID]
	if !ok {
		est = layout.NewEstimator(nil)
		s.pages[docID] = est
	}
	s.pageMu.Unlock()
	return est.Observe(contentHeight)
}

// MarkReady transitions draft -> ready. Content and blocks are already
// persisted by Update, so this is the save-then-transition step.
func (s *Service) MarkReady(ctx context.Context, id int64) (*Document, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Status != StatusDraft {
		return nil, fmt.Errorf("%w: cannot mark a %s document ready", ErrInvalidState, doc.Status)
	}
	doc.Status = StatusReady
	doc.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// IssueLink creates a signing link for a ready or sent document and moves a
// ready document to sent. The token is the bearer's sole credential.
func (s *Service) IssueLink(ctx context.Context, documentID int64, intendedEmail string, expiresInDays int, createdBy string) (*Link, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !doc.Status.Signable() {
		return nil, fmt.Errorf("%w: cannot issue a signing link for a %s document", ErrInvalidState, doc.Status)
	}
	if expiresInDays < 0 {
		return nil, fmt.Errorf("%w: expires_in_days must be >= 0", ErrValidationFailed)
	}

	now := s.now().UTC()
	link := &Link{
		ID:                  ids.New(),
		DocumentID:          doc.ID,
		Token:               uuid.NewString(),
		IntendedSignerEmail: strings.TrimSpace(intendedEmail),
		CreatedByUserID:     createdBy,
		CreatedAt:           now,
	}
	if expiresInDays > 0 {
		exp := now.AddDate(0, 0, expiresInDays)
		link.ExpiresAt = &exp
	}
	if err := s.store.CreateLink(ctx, link); err != nil {
		return nil, err
	}

	doc.SigningURL = s.SigningURL(link.Token)
	if doc.Status == StatusReady {
		doc.Status = StatusSent
	}
	doc.UpdatedAt = now
	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		return nil, err
	}
	obs.SigningLinksIssued.Inc()
	s.publish(stream.Event{
		Type:       stream.EventLinkIssued,
		DocumentID: doc.ID,
		LeadID:     doc.LeadID,
		Timestamp:  now,
	})
	return link, nil
}

// SigningURL builds the absolute public signing URL for a token.
func (s *Service) SigningURL(token string) string {
	return fmt.Sprintf("%s/sign/%s", s.baseURL, token)
}

// ListLinks returns all signing links for a document.
func (s *Service) ListLinks(ctx context.Context, documentID int64) ([]*Link, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	return s.store.ListLinks(ctx, documentID)
}

// validLink resolves a token and applies the standard redemption checks.
func (s *Service) validLink(ctx context.Context, token string) (*Link, error) {
	link, err := s.store.GetLinkByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if link.IsUsed {
		return nil, ErrAlreadyUsed
	}
	if link.Expired(s.now().UTC()) {
		return nil, ErrExpired
	}
	return link, nil
}

// View is the public signing page payload.
type View struct {
	DocumentID      int64
	DocumentTitle   string
	RenderedContent string
	SignatureBlocks string
	Blocks          []sigblock.Block
	Statuses        []BlockStatus
	AllSigned       bool
	IntendedEmail   string
	NumPages        int
}

// ViewByToken redeems a token for viewing. Viewing never consumes the link.
func (s *Service) ViewByToken(ctx context.Context, token string) (*View, error) {
	link, err := s.validLink(ctx, token)
	if err != nil {
		return nil, err
	}
	doc, err := s.store.GetDocument(ctx, link.DocumentID)
	if err != nil {
		return nil, err
	}
	statuses, allSigned, err := s.Completion(ctx, doc)
	if err != nil {
		return nil, err
	}
	return &View{
		DocumentID:      doc.ID,
		DocumentTitle:   doc.Title,
		RenderedContent: doc.RenderedContent,
		SignatureBlocks: doc.SignatureBlocks,
		Blocks:          sigblock.Deserialize(doc.SignatureBlocks),
		Statuses:        statuses,
		AllSigned:       allSigned,
		IntendedEmail:   link.IntendedSignerEmail,
		NumPages:        s.observePages(doc.ID, doc.ContentHeight),
	}, nil
}

// RequestMeta carries client forensics recorded with each signature.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// SignResult reports completion progress after a block submission.
type SignResult struct {
	AllSigned bool
	Remaining int
}

// SignBlock records one signature for one block via a public link. The link
// stays live until finish; at-most-once per block is enforced by the store
// so a replayed request observes ErrAlreadySigned instead of overwriting.
func (s *Service) SignBlock(ctx context.Context, token, blockID, signerName, signerEmail, signatureData string, meta RequestMeta) (*SignResult, error) {
	link, err := s.validLink(ctx, token)
	if err != nil {
		return nil, err
	}
	doc, err := s.store.GetDocument(ctx, link.DocumentID)
	if err != nil {
		return nil, err
	}
	if !doc.Status.Signable() {
		return nil, fmt.Errorf("%w: document is %s", ErrInvalidState, doc.Status)
	}
	if strings.TrimSpace(signerName) == "" {
		return nil, fmt.Errorf("%w: signer name is required", ErrValidationFailed)
	}
	signatureData = normalizeSignatureData(signatureData)
	if signatureData == "" {
		return nil, fmt.Errorf("%w: signature image is required", ErrValidationFailed)
	}
	blocks := sigblock.Deserialize(doc.SignatureBlocks)
	if _, ok := sigblock.Find(blocks, blockID); !ok {
		return nil, fmt.Errorf("%w: unknown signature block %q", ErrNotFound, blockID)
	}

	sig := &Signature{
		ID:            ids.New(),
		DocumentID:    doc.ID,
		BlockID:       blockID,
		SignerType:    SignerTypeClient,
		SignerName:    strings.TrimSpace(signerName),
		SignerEmail:   strings.TrimSpace(signerEmail),
		SignatureData: signatureData,
		SigningToken:  token,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		SignedAt:      s.now().UTC(),
	}
	if err := s.store.CreateSignature(ctx, sig); err != nil {
		return nil, err
	}
	obs.SignaturesRecorded.WithLabelValues(SignerTypeClient).Inc()
	s.publish(stream.Event{
		Type:       stream.EventBlockSigned,
		DocumentID: doc.ID,
		LeadID:     doc.LeadID,
		BlockID:    blockID,
		SignerName: sig.SignerName,
		Timestamp:  sig.SignedAt,
	})

	_, allSigned, remaining, err := s.completionCounts(ctx, doc)
	if err != nil {
		return nil, err
	}
	return &SignResult{AllSigned: allSigned, Remaining: remaining}, nil
}

// FinishResult is the terminal outcome of a public signing session.
type FinishResult struct {
	DocumentID int64
	Status     Status
}

// Finish consumes the link and completes the document. Only valid once every
// block is signed; the is_used flip is atomic, so of two concurrent finish
// calls exactly one succeeds and the other observes ErrAlreadyUsed.
func (s *Service) Finish(ctx context.Context, token string) (*FinishResult, error) {
	link, err := s.validLink(ctx, token)
	if err != nil {
		return nil, err
	}
	doc, err := s.store.GetDocument(ctx, link.DocumentID)
	if err != nil {
		return nil, err
	}
	if !doc.Status.Signable() {
		return nil, fmt.Errorf("%w: document is %s", ErrInvalidState, doc.Status)
	}
	blocks := sigblock.Deserialize(doc.SignatureBlocks)
	if len(blocks) == 0 {
		// Zero-block documents are vacuously complete for status display but
		// cannot be finished: a signed document must carry a signature.
		return nil, fmt.Errorf("%w: document has no signature blocks", ErrNotReady)
	}
	_, allSigned, _, err := s.completionCounts(ctx, doc)
	if err != nil {
		return nil, err
	}
	if !allSigned {
		return nil, ErrNotReady
	}

	consumed, err := s.store.ConsumeLink(ctx, token, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if !consumed {
		return nil, ErrAlreadyUsed
	}
	return s.complete(ctx, doc)
}

// InternalSignResult reports the outcome of an authenticated signature.
type InternalSignResult struct {
	NewStatus   Status
	IsCompleted bool
}

// SignInternal records an authenticated signature. The target block is
// selected server-side (first unsigned block) so the internal flow shares
// the public flow's completion path. A second internal signature is rejected
// once one exists.
func (s *Service) SignInternal(ctx context.Context, documentID int64, userID, signerName, signerEmail, signatureData string, meta RequestMeta) (*InternalSignResult, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !doc.Status.Signable() {
		return nil, fmt.Errorf("%w: document is %s", ErrInvalidState, doc.Status)
	}
	if strings.TrimSpace(signerName) == "" {
		return nil, fmt.Errorf("%w: signer name is required", ErrValidationFailed)
	}
	signatureData = normalizeSignatureData(signatureData)
	if signatureData == "" {
		return nil, fmt.Errorf("%w: signature image is required", ErrValidationFailed)
	}
	blocks := sigblock.Deserialize(doc.SignatureBlocks)
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%w: document has no signature blocks", ErrInvalidState)
	}

	sigs, err := s.store.ListSignatures(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	for _, sig := range sigs {
		if sig.SignerType == SignerTypeInternal {
			return nil, ErrAlreadySigned
		}
	}
	target, ok := firstUnsigned(blocks, sigs)
	if !ok {
		return nil, ErrAlreadySigned
	}

	sig := &Signature{
		ID:            ids.New(),
		DocumentID:    doc.ID,
		BlockID:       target.ID,
		SignerType:    SignerTypeInternal,
		SignerUserID:  userID,
		SignerName:    strings.TrimSpace(signerName),
		SignerEmail:   strings.TrimSpace(signerEmail),
		SignatureData: signatureData,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		SignedAt:      s.now().UTC(),
	}
	if err := s.store.CreateSignature(ctx, sig); err != nil {
		return nil, err
	}
	obs.SignaturesRecorded.WithLabelValues(SignerTypeInternal).Inc()
	s.publish(stream.Event{
		Type:       stream.EventBlockSigned,
		DocumentID: doc.ID,
		LeadID:     doc.LeadID,
		BlockID:    target.ID,
		SignerName: sig.SignerName,
		Timestamp:  sig.SignedAt,
	})

	_, allSigned, _, err := s.completionCounts(ctx, doc)
	if err != nil {
		return nil, err
	}
	if !allSigned {
		return &InternalSignResult{NewStatus: doc.Status, IsCompleted: false}, nil
	}
	res, err := s.complete(ctx, doc)
	if err != nil {
		return nil, err
	}
	return &InternalSignResult{NewStatus: res.Status, IsCompleted: true}, nil
}

// complete transitions the document to signed and advances the lead's
// pipeline stage.
func (s *Service) complete(ctx context.Context, doc *Document) (*FinishResult, error) {
	now := s.now().UTC()
	doc.Status = StatusSigned
	doc.CompletedAt = &now
	doc.UpdatedAt = now
	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		return nil, err
	}
	if s.pipeline != nil && doc.ContractType != "" {
		if _, err := s.pipeline.AdvanceOnSigned(ctx, doc.LeadID, doc.ContractType); err != nil {
			return nil, err
		}
	}
	obs.DocumentsCompleted.Inc()
	s.publish(stream.Event{
		Type:       stream.EventDocumentCompleted,
		DocumentID: doc.ID,
		LeadID:     doc.LeadID,
		Timestamp:  now,
	})
	return &FinishResult{DocumentID: doc.ID, Status: doc.Status}, nil
}

func (s *Service) publish(evt stream.Event) {
	if s.events != nil {
		s.events.Publish(evt)
	}
}

// normalizeSignatureData ensures a data-URI prefix on the submitted image.
// Bare base64 is assumed to be PNG, matching what the capture canvas emits.
func normalizeSignatureData(data string) string {
	data = strings.TrimSpace(data)
	if data == "" {
		return ""
	}
	if strings.HasPrefix(data, "data:image") {
		return data
	}
	return "data:image/png;base64," + data
}
