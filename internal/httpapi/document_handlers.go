package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"leadsign.org/internal/auth"
	"leadsign.org/internal/document"
	"leadsign.org/internal/pdfexport"
)

type createDocumentRequest struct {
	OrganizationID  int64  `json:"organization_id"`
	LeadID          int64  `json:"lead_id"`
	TemplateID      *int64 `json:"template_id"`
	Title           string `json:"title"`
	RenderedContent string `json:"rendered_content"`
	SignatureBlocks string `json:"signature_blocks"`
	ContractType    string `json:"contract_type"`
	Uploaded        bool   `json:"uploaded"`
}

type updateDocumentRequest struct {
	Title           *string `json:"title"`
	RenderedContent *string `json:"rendered_content"`
	SignatureBlocks *string `json:"signature_blocks"`
	ContentHeight   *int    `json:"content_height"`
}

type documentResponse struct {
	*document.Document
	Warnings []string `json:"placement_warnings,omitempty"`
}

type issueLinkRequest struct {
	IntendedSignerEmail string `json:"intended_signer_email"`
	ExpiresInDays       int    `json:"expires_in_days"`
}

type issueLinkResponse struct {
	*document.Link
	SigningURL string `json:"signing_url"`
}

type internalSignRequest struct {
	SignerName    string `json:"signer_name"`
	SignerEmail   string `json:"signer_email"`
	SignatureData string `json:"signature_data"`
}

func (a *API) handleDocumentsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createDocument(w, r)
	case http.MethodGet:
		a.listDocuments(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleDocumentResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	if path == "" || strings.HasSuffix(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	idPart, action, _ := strings.Cut(path, "/")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusNotFound, "document not found")
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			a.getDocument(w, r, id)
		case http.MethodPut:
			a.updateDocument(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
		}
	case "ready":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.markReady(w, r, id)
	case "signing-links":
		switch r.Method {
		case http.MethodPost:
			a.issueLink(w, r, id)
		case http.MethodGet:
			a.listLinks(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}
	case "sign":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.signInternal(w, r, id)
	case "export":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.exportDocument(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) createDocument(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	doc, err := a.docs.CreateDocument(r.Context(), document.CreateDocumentInput{
		OrganizationID:  req.OrganizationID,
		LeadID:          req.LeadID,
		TemplateID:      req.TemplateID,
		Title:           req.Title,
		RenderedContent: req.RenderedContent,
		SignatureBlocks: req.SignatureBlocks,
		ContractType:    req.ContractType,
		CreatedByUserID: userID,
		Uploaded:        req.Uploaded,
	})
	if err != nil {
		handleDocumentError(w, r, err)
		return
	}

	a.audit(r.Context(), "document.create", map[string]any{
		"document_id":   doc.ID,
		"lead_id":       doc.LeadID,
		"contract_type": doc.ContractType,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/documents/%d", doc.ID))
	writeJSON(w, http.StatusCreated, documentResponse{Document: doc})
}

func (a *API) listDocuments(w http.ResponseWriter, r *http.Request) {
	var leadID int64
	if raw := strings.TrimSpace(r.URL.Query().Get("lead_id")); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			writeError(w, r, http.StatusBadRequest, "lead_id must be a positive integer")
			return
		}
		leadID = v
	}

	docs, err := a.docs.List(r.Context(), leadID)
	if err != nil {
		handleDocumentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": docs})
}

func (a *API) getDocument(w http.ResponseWriter, r *http.Request, id int64) {
	doc, err := a.docs.Get(r.Context(), id)
	if err != nil {
		handleDocumentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documentResponse{Document: doc})
}

func (a *API) updateDocument(w http.ResponseWriter, r *http.Request, id int64) {
	var req updateDocumentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	doc, warnings, err := a.docs.Update(r.Context(), id, document.UpdateDocumentInput{
		Title:           req.Title,
		RenderedContent: req.RenderedContent,
		SignatureBlocks: req.SignatureBlocks,
		ContentHeight:   req.ContentHeight,
	})
	if err != nil {
		handleDocumentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documentResponse{Document: doc, Warnings: warnings})
}

func (a *API) markReady(w http.ResponseWriter, r *http.Request, id int64) {
	doc, err := a.docs.MarkReady(r.Context(), id)
	if err != nil {
		handleDocumentError(w, r, err)
		return
	}
	a.audit(r.Context(), "document.ready", map[string]any{"document_id": doc.ID})
	writeJSON(w, http.StatusOK, documentResponse{Document: doc})
}

func (a *API) issueLink(w http.ResponseWriter, r *http.Request, id int64) {
	var req issueLinkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	link, err := a.docs.IssueLink(r.Context(), id, req.IntendedSignerEmail, req.ExpiresInDays, userID)
	if err != nil {
		handleDocumentError(w, r, err)
		return
	}

	a.audit(r.Context(), "document.link.issue", map[string]any{
		"document_id": id,
		"link_id":     link.ID,
	})
	writeJSON(w, http.StatusCreated, issueLinkResponse{
		Link:       link,
		SigningURL: a.docs.SigningURL(link.Token),
	})
}

func (a *API) listLinks(w http.ResponseWriter, r *http.Request, id int64) {
	links, err := a.docs.ListLinks(r.Context(), id)
	if err != nil {
		handleDocumentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": links})
}

func (a *API) signInternal(w http.ResponseWriter, r *http.Request, id int64) {
	var req internalSignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	res, err := a.docs.SignInternal(r.Context(), id, userID,
		req.SignerName, req.SignerEmail, req.SignatureData,
		document.RequestMeta{IPAddress: clientIP(r), UserAgent: r.UserAgent()})
	if err != nil {
		handleDocumentError(w, r, err)
		return
	}

	a.audit(r.Context(), "document.sign.internal", map[string]any{
		"document_id": id,
		"completed":   res.IsCompleted,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"new_status":   res.NewStatus,
		"is_completed": res.IsCompleted,
	})
}

func (a *API) exportDocument(w http.ResponseWriter, r *http.Request, id int64) {
	doc, err := a.docs.Get(r.Context(), id)
	if err != nil {
		handleDocumentError(w, r, err)
		return
	}
	statuses, _, err := a.docs.Completion(r.Context(), doc)
	if err != nil {
		handleDocumentError(w, r, err)
		return
	}
	out, err := pdfexport.Export(doc, statuses)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFilename(doc)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func exportFilename(doc *document.Document) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '-', r == '_':
			return '-'
		}
		return -1
	}, doc.Title)
	if name == "" {
		name = "document"
	}
	return fmt.Sprintf("%s-%d.pdf", name, doc.ID)
}
