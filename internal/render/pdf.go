package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
	qrcode "github.com/skip2/go-qrcode"
)

// Poster bundles everything the PDF composer needs. Peaks may be empty, in
// which case the waveform band is omitted and the QR block is enlarged
// (non-WAV uploads).
type Poster struct {
	Layout    Layout
	Photo     []byte // JPEG or PNG bytes
	PhotoMime string // "image/jpeg" or "image/png"
	Peaks     []float64
	AudioURL  string // QR target: signed public listen link
}

// DefaultPeakBuckets is the waveform resolution used by the render worker.
const DefaultPeakBuckets = 96

// RenderPDF composes the poster into a single-page PDF.
func RenderPDF(p Poster) ([]byte, error) {
	if err := p.Layout.Validate(); err != nil {
		return nil, err
	}
	if len(p.Photo) == 0 {
		return nil, fmt.Errorf("poster has no photo")
	}
	if p.AudioURL == "" {
		return nil, fmt.Errorf("poster has no audio url")
	}

	pdf := gofpdf.New("P", "mm", p.Layout.Paper, "")
	pdf.SetTitle("VoiceFrame poster", true)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	pageW, pageH := pdf.GetPageSize()

	// Page background.
	br, bg, bb, _ := parseHexColor(p.Layout.Background)
	pdf.SetFillColor(br, bg, bb)
	pdf.Rect(0, 0, pageW, pageH, "F")

	margin := pageW * 0.08
	if p.Layout.Template == "full_bleed" {
		margin = 0
	}
	contentW := pageW - 2*margin

	// Photo block: top ~55% of the page.
	imgType := "JPG"
	if strings.Contains(p.PhotoMime, "png") {
		imgType = "PNG"
	}
	opts := gofpdf.ImageOptions{ImageType: imgType, ReadDpi: true}
	pdf.RegisterImageOptionsReader("poster-photo", opts, bytes.NewReader(p.Photo))
	photoH := pageH * 0.55
	if p.Layout.Template == "minimal" {
		photoH = pageH * 0.45
	}
	pdf.ImageOptions("poster-photo", margin, margin, contentW, photoH-margin, false, opts, 0, "")

	ar, ag, ab, _ := parseHexColor(p.Layout.Accent)
	y := photoH + pageH*0.03

	// Title and caption.
	if p.Layout.Title != "" {
		pdf.SetFont("Helvetica", "B", 28)
		pdf.SetTextColor(ar, ag, ab)
		pdf.SetXY(margin, y)
		pdf.CellFormat(contentW, 12, p.Layout.Title, "", 1, "C", false, 0, "")
		y += 14
	}
	if p.Layout.Caption != "" {
		pdf.SetFont("Helvetica", "", 12)
		pdf.SetTextColor(ar, ag, ab)
		pdf.SetXY(margin, y)
		pdf.CellFormat(contentW, 6, p.Layout.Caption, "", 1, "C", false, 0, "")
		y += 10
	}

	// Waveform band.
	qrSize := pageH * 0.12
	if len(p.Peaks) > 0 {
		waveH := pageH * 0.14
		drawWaveform(pdf, p.Peaks, p.Layout.WaveStyle, margin, y, contentW, waveH, ar, ag, ab)
		y += waveH + pageH*0.02
	} else {
		qrSize = pageH * 0.18
	}

	// QR code linking to the hosted audio.
	png, err := qrcode.Encode(p.AudioURL, qrcode.Medium, 512)
	if err != nil {
		return nil, fmt.Errorf("qr encode: %w", err)
	}
	qrOpts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("poster-qr", qrOpts, bytes.NewReader(png))
	pdf.ImageOptions("poster-qr", (pageW-qrSize)/2, y, qrSize, qrSize, false, qrOpts, 0, "")

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, fmt.Errorf("pdf output: %w", err)
	}
	return out.Bytes(), nil
}

// drawWaveform renders the peak buckets either as vertical bars mirrored
// around the midline or as a connected line.
func drawWaveform(pdf *gofpdf.Fpdf, peaks []float64, style string, x, y, w, h float64, r, g, b int) {
	mid := y + h/2
	step := w / float64(len(peaks))
	switch style {
	case "line":
		pdf.SetDrawColor(r, g, b)
		pdf.SetLineWidth(0.6)
		prevX, prevY := x, mid
		for i, p := range peaks {
			px := x + (float64(i)+0.5)*step
			py := mid - p*(h/2)
			pdf.Line(prevX, prevY, px, py)
			prevX, prevY = px, py
		}
		pdf.Line(prevX, prevY, x+w, mid)
	default: // bars
		pdf.SetFillColor(r, g, b)
		barW := step * 0.6
		for i, p := range peaks {
			bh := p * (h / 2)
			if bh < 0.4 {
				bh = 0.4 // keep silent stretches visible
			}
			px := x + float64(i)*step + (step-barW)/2
			pdf.Rect(px, mid-bh, barW, bh*2, "F")
		}
	}
}
