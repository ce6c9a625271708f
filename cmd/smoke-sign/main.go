// Command smoke-sign runs an end-to-end signing flow against a live API:
// token, create document, mark ready, issue link, sign every block, finish.
// It exits non-zero on the first divergence from the expected flow.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

type client struct {
	base  string
	token string
	http  *http.Client
}

func main() {
	base := os.Getenv("LEADSIGN_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}

	c := &client{base: base, http: &http.Client{Timeout: 10 * time.Second}}

	var tok struct {
		Token string `json:"token"`
	}
	c.call(http.MethodPost, "/v1/auth/token", map[string]any{
		"user_id": "smoke-user",
		"email":   "smoke@example.com",
	}, http.StatusOK, &tok)
	c.token = tok.Token

	blocks := `[{"id":"sig_smoke_a","x":100,"y":50,"width":200,"height":80,"label":"Client signature"},` +
		`{"id":"sig_smoke_b","x":400,"y":300,"width":200,"height":80,"label":"Client signature"}]`

	var doc struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	c.call(http.MethodPost, "/v1/documents", map[string]any{
		"organization_id":  1,
		"lead_id":          time.Now().UnixNano(),
		"title":            "Smoke test agreement",
		"rendered_content": "<p>smoke</p>",
		"signature_blocks": blocks,
		"contract_type":    "buyer",
	}, http.StatusCreated, &doc)

	c.call(http.MethodPost, fmt.Sprintf("/v1/documents/%d/ready", doc.ID), map[string]any{}, http.StatusOK, nil)

	var link struct {
		Token      string `json:"token"`
		SigningURL string `json:"signing_url"`
	}
	c.call(http.MethodPost, fmt.Sprintf("/v1/documents/%d/signing-links", doc.ID), map[string]any{
		"expires_in_days": 1,
	}, http.StatusCreated, &link)

	var view struct {
		Blocks []struct {
			ID string `json:"id"`
		} `json:"blocks"`
		AllSigned bool `json:"all_blocks_signed"`
	}
	c.call(http.MethodGet, "/v1/public/sign/"+link.Token, nil, http.StatusOK, &view)
	if len(view.Blocks) != 2 || view.AllSigned {
		log.Fatalf("expected 2 unsigned blocks in public view, got %d (all_blocks_signed=%v)", len(view.Blocks), view.AllSigned)
	}

	remaining := len(view.Blocks)
	for _, b := range view.Blocks {
		var res struct {
			AllSigned bool `json:"all_blocks_signed"`
			Remaining int  `json:"remaining_blocks"`
		}
		c.call(http.MethodPost, "/v1/public/sign/"+link.Token+"/sign", map[string]any{
			"signature_block_id": b.ID,
			"signer_name":        "Smoke Signer",
			"signature_data":     "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mP8z8BQDwAEhQGAhKmMIQAAAABJRU5ErkJggg==",
		}, http.StatusOK, &res)
		remaining--
		if res.Remaining != remaining {
			log.Fatalf("expected %d remaining blocks after signing %s, got %d", remaining, b.ID, res.Remaining)
		}
	}

	var finish struct {
		Status string `json:"status"`
	}
	c.call(http.MethodPost, "/v1/public/sign/"+link.Token+"/finish", nil, http.StatusOK, &finish)
	if finish.Status != "signed" {
		log.Fatalf("expected signed after finish, got %q", finish.Status)
	}

	// The consumed link must refuse a replay.
	c.call(http.MethodPost, "/v1/public/sign/"+link.Token+"/finish", nil, http.StatusConflict, nil)

	fmt.Printf("signing smoke test passed: document=%d link=%s\n", doc.ID, link.Token)
}

func (c *client) call(method, path string, body any, wantStatus int, out any) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			log.Fatalf("%s %s: marshal: %v", method, path, err)
		}
	}
	req, err := http.NewRequest(method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		log.Fatalf("%s %s: status %d, want %d", method, path, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}
