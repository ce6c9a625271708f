// Package pdfexport renders a signed document to PDF. The page geometry
// mirrors the on-screen A4 canvas, so signature placement must agree with
// the signing pages: block coordinates go through layout.Resolve and are
// scaled from canvas pixels to PDF points.
package pdfexport

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-pdf/fpdf"

	"leadsign.org/internal/document"
	"leadsign.org/internal/layout"
	"leadsign.org/internal/sigblock"
)

// A4 portrait width in points.
const pageWidthPt = 595.28

// scale converts canvas pixels to PDF points.
const scale = pageWidthPt / float64(layout.PageWidth)

var (
	tagRe    = regexp.MustCompile(`<[^>]*>`)
	brRe     = regexp.MustCompile(`(?i)<(br|/p|/div|/h[1-6]|/li)[^>]*>`)
	spaceRe  = regexp.MustCompile(`[ \t]+`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
	entities = strings.NewReplacer("&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'")
)

// Export renders the document's content and its recorded signatures as a
// PDF. Signed blocks get their signature image and signer attribution;
// unsigned blocks render as an empty labeled box.
func Export(doc *document.Document, statuses []document.BlockStatus) ([]byte, error) {
	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetTitle(doc.Title, true)
	pdf.SetMargins(float64(layout.PagePadding)*scale, float64(layout.PagePadding)*scale, float64(layout.PagePadding)*scale)
	pdf.SetAutoPageBreak(true, float64(layout.PagePadding)*scale)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.MultiCell(0, 20, doc.Title, "", "L", false)
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 11)
	for _, para := range paragraphs(doc.RenderedContent) {
		pdf.MultiCell(0, 14, para, "", "L", false)
		pdf.Ln(6)
	}

	blocks := sigblock.Deserialize(doc.SignatureBlocks)
	if err := stampBlocks(pdf, blocks, statuses); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// stampBlocks places each block at its resolved canvas position, mapped to
// the page it falls on.
func stampBlocks(pdf *fpdf.Fpdf, blocks []sigblock.Block, statuses []document.BlockStatus) error {
	byBlock := make(map[string]document.BlockStatus, len(statuses))
	for _, st := range statuses {
		byBlock[st.BlockID] = st
	}

	for i, b := range blocks {
		p := layout.Resolve(b)
		page := layout.PageOf(p.Y)
		for pdf.PageCount() < page+1 {
			pdf.AddPage()
		}
		pdf.SetPage(page + 1)

		x := float64(p.X) * scale
		y := float64(p.Y-page*layout.PageHeight) * scale
		w := float64(b.Width) * scale
		h := float64(b.Height) * scale

		pdf.SetDrawColor(120, 120, 120)
		pdf.Rect(x, y, w, h, "D")

		st, signed := byBlock[b.ID]
		if !signed || !st.IsSigned {
			pdf.SetFont("Helvetica", "I", 9)
			pdf.SetTextColor(120, 120, 120)
			pdf.Text(x+4, y+h/2, b.Label)
			pdf.SetTextColor(0, 0, 0)
			continue
		}

		img, err := decodeSignatureImage(st.SignatureData)
		if err != nil {
			return fmt.Errorf("block %s: %w", b.ID, err)
		}
		name := fmt.Sprintf("signature-%d", i)
		pdf.RegisterImageOptionsReader(name, fpdf.ImageOptions{ImageType: "PNG"}, bytes.NewReader(img))
		pdf.ImageOptions(name, x+2, y+2, w-4, h-16, false, fpdf.ImageOptions{ImageType: "PNG"}, 0, "")

		pdf.SetFont("Helvetica", "", 8)
		caption := st.SignerName
		if st.SignedAt != nil {
			caption = fmt.Sprintf("%s, %s", st.SignerName, st.SignedAt.Format("2006-01-02 15:04 MST"))
		}
		pdf.Text(x+4, y+h-4, caption)
	}
	return pdf.Error()
}

// decodeSignatureImage strips the data-URI envelope and decodes the base64
// PNG payload.
func decodeSignatureImage(data string) ([]byte, error) {
	if idx := strings.Index(data, ","); idx >= 0 && strings.HasPrefix(data, "data:") {
		data = data[idx+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode signature image: %w", err)
	}
	return raw, nil
}

// paragraphs flattens an HTML fragment into plain-text paragraphs. The
// editor emits a small tag vocabulary, so regex stripping is sufficient for
// export; no script or style content is expected.
func paragraphs(html string) []string {
	text := brRe.ReplaceAllString(html, "\n")
	text = tagRe.ReplaceAllString(text, "")
	text = entities.Replace(text)
	text = spaceRe.ReplaceAllString(text, " ")
	text = blankRe.ReplaceAllString(text, "\n\n")

	var out []string
	for _, para := range strings.Split(text, "\n") {
		para = strings.TrimSpace(para)
		if para != "" {
			out = append(out, para)
		}
	}
	if len(out) == 0 {
		out = []string{""}
	}
	return out
}
