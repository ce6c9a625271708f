package httpapi

import (
	"net/http"
	"strings"

	"leadsign.org/internal/document"
	"leadsign.org/internal/sigblock"
)

type publicViewResponse struct {
	DocumentID      int64                  `json:"document_id"`
	DocumentTitle   string                 `json:"document_title"`
	RenderedContent string                 `json:"rendered_content"`
	SignatureBlocks string                 `json:"signature_blocks"`
	Blocks          []sigblock.Block       `json:"blocks"`
	Statuses        []document.BlockStatus `json:"signature_statuses"`
	AllSigned       bool                   `json:"all_blocks_signed"`
	IntendedEmail   string                 `json:"intended_signer_email,omitempty"`
	NumPages        int                    `json:"num_pages"`
}

type publicSignRequest struct {
	BlockID       string `json:"signature_block_id"`
	SignerName    string `json:"signer_name"`
	SignerEmail   string `json:"signer_email"`
	SignatureData string `json:"signature_data"`
}

type publicSignResponse struct {
	Success   bool `json:"success"`
	AllSigned bool `json:"all_blocks_signed"`
	Remaining int  `json:"remaining_blocks"`
}

// handlePublicSign routes the tokenized signing surface:
//
//	GET  /v1/public/sign/{token}         view
//	POST /v1/public/sign/{token}/sign    sign one block
//	POST /v1/public/sign/{token}/finish  consume the link, complete
func (a *API) handlePublicSign(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/public/sign/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	token, action, _ := strings.Cut(path, "/")
	if token == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.publicView(w, r, token)
	case "sign":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.publicSign(w, r, token)
	case "finish":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.publicFinish(w, r, token)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) publicView(w http.ResponseWriter, r *http.Request, token string) {
	view, err := a.docs.ViewByToken(r.Context(), token)
	if err != nil {
		handleDocumentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, publicViewResponse{
		DocumentID:      view.DocumentID,
		DocumentTitle:   view.DocumentTitle,
		RenderedContent: view.RenderedContent,
		SignatureBlocks: view.SignatureBlocks,
		Blocks:          view.Blocks,
		Statuses:        view.Statuses,
		AllSigned:       view.AllSigned,
		IntendedEmail:   view.IntendedEmail,
		NumPages:        view.NumPages,
	})
}

func (a *API) publicSign(w http.ResponseWriter, r *http.Request, token string) {
	var req publicSignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.BlockID) == "" {
		writeError(w, r, http.StatusBadRequest, "signature_block_id is required")
		return
	}

	res, err := a.docs.SignBlock(r.Context(), token, req.BlockID,
		req.SignerName, req.SignerEmail, req.SignatureData,
		document.RequestMeta{IPAddress: clientIP(r), UserAgent: r.UserAgent()})
	if err != nil {
		handleDocumentError(w, r, err)
		return
	}

	a.audit(r.Context(), "document.sign", map[string]any{
		"block_id":   req.BlockID,
		"all_signed": res.AllSigned,
	})
	writeJSON(w, http.StatusOK, publicSignResponse{
		Success:   true,
		AllSigned: res.AllSigned,
		Remaining: res.Remaining,
	})
}

func (a *API) publicFinish(w http.ResponseWriter, r *http.Request, token string) {
	res, err := a.docs.Finish(r.Context(), token)
	if err != nil {
		handleDocumentError(w, r, err)
		return
	}

	a.audit(r.Context(), "document.finish", map[string]any{
		"document_id": res.DocumentID,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"document_id": res.DocumentID,
		"status":      res.Status,
	})
}
