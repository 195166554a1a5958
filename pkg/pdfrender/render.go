// Package pdfrender lays out the small Markdown subset produced by the structuring
// step (headings, bullets, fenced code and paragraphs) as a paginated A4 PDF.
package pdfrender

import (
	"bytes"
	"errors"
	"fmt"
	"github.com/go-pdf/fpdf"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"
	"time"
)

// Embedded TrueType families. Text is written as UTF-8, so Greek letters, arrows and
// math operators survive; Style fonts must name one of these families.
const (
	FontSans = "GoSans"
	FontMono = "GoMono"
)

// ErrRender is returned when no PDF could be produced from the input.
var ErrRender = errors.New("pdf render failed")

type HeadingStyle struct {
	Size        float64
	SpaceBefore float64
	SpaceAfter  float64
	Color       [3]int
}

// Style holds every layout constant. Identical markdown and Style give identical bytes.
type Style struct {
	PageSize         string
	Margin           float64
	BodyFont         string
	BodySize         float64
	BodyLeading      float64
	BodySpaceAfter   float64
	Headings         [3]HeadingStyle
	BulletIndent     float64
	BulletSpaceAfter float64
	CodeFont         string
	CodeSize         float64
	CodeLeading      float64
	CodePadding      float64
	CodeSpaceAround  float64
	CodeFill         [3]int
	SpacerHeight     float64
	Creator          string
	DocumentDate     time.Time
	Compress         bool
}

func DefaultStyle() Style {
	return Style{
		PageSize:       "A4",
		Margin:         40,
		BodyFont:       FontSans,
		BodySize:       12,
		BodyLeading:    16,
		BodySpaceAfter: 6,
		Headings: [3]HeadingStyle{
			{Size: 20, SpaceBefore: 12, SpaceAfter: 12},
			{Size: 16, SpaceBefore: 10, SpaceAfter: 8, Color: [3]int{0x33, 0x33, 0x33}},
			{Size: 14, SpaceBefore: 6, SpaceAfter: 6, Color: [3]int{0x55, 0x55, 0x55}},
		},
		BulletIndent:     20,
		BulletSpaceAfter: 5,
		CodeFont:         FontMono,
		CodeSize:         10,
		CodeLeading:      14,
		CodePadding:      10,
		CodeSpaceAround:  6,
		CodeFill:         [3]int{0xf5, 0xf5, 0xf5},
		SpacerHeight:     10,
		Creator:          "worker-notes",
		DocumentDate:     time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC),
		Compress:         true,
	}
}

type Renderer interface {
	Render(markdown string) ([]byte, error)
}

type Option func(*renderer)

func WithStyle(style Style) Option {
	return func(r *renderer) {
		r.style = style
	}
}

type renderer struct {
	style Style
}

func New(opts ...Option) Renderer {
	r := &renderer{style: DefaultStyle()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *renderer) Render(markdown string) (out []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("%w: %v", ErrRender, p)
		}
	}()

	s := r.style
	pdf := fpdf.New("P", "pt", s.PageSize, "")
	pdf.SetMargins(s.Margin, s.Margin, s.Margin)
	pdf.SetAutoPageBreak(true, s.Margin)
	pdf.SetCreationDate(s.DocumentDate)
	pdf.SetModificationDate(s.DocumentDate)
	pdf.SetCatalogSort(true)
	pdf.SetCreator(s.Creator, true)
	pdf.SetCompression(s.Compress)
	pdf.AddUTF8FontFromBytes(FontSans, "", goregular.TTF)
	pdf.AddUTF8FontFromBytes(FontSans, "B", gobold.TTF)
	pdf.AddUTF8FontFromBytes(FontMono, "", gomono.TTF)
	pdf.AddPage()

	l := &layout{pdf: pdf, style: s}
	for _, b := range Parse(markdown) {
		l.block(b)
	}
	if pdf.Err() {
		return nil, errors.Join(ErrRender, pdf.Error())
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, errors.Join(ErrRender, err)
	}
	return buf.Bytes(), nil
}

type layout struct {
	pdf   *fpdf.Fpdf
	style Style
}

func (l *layout) block(b Block) {
	s := l.style
	switch b.Kind {
	case BlockHeading1, BlockHeading2, BlockHeading3:
		h := s.Headings[b.Kind-BlockHeading1]
		l.pdf.Ln(h.SpaceBefore)
		l.pdf.SetFont(s.BodyFont, "B", h.Size)
		l.pdf.SetTextColor(h.Color[0], h.Color[1], h.Color[2])
		l.pdf.MultiCell(0, h.Size*1.2, b.Text, "", "L", false)
		l.pdf.SetTextColor(0, 0, 0)
		l.pdf.Ln(h.SpaceAfter)
	case BlockBullet:
		l.pdf.SetFont(s.BodyFont, "", s.BodySize)
		l.pdf.SetX(s.Margin + s.BulletIndent/2)
		l.pdf.CellFormat(s.BulletIndent/2, s.BodyLeading, "•", "", 0, "L", false, 0, "")
		l.pdf.MultiCell(0, s.BodyLeading, b.Text, "", "L", false)
		l.pdf.Ln(s.BulletSpaceAfter)
	case BlockCode:
		l.pdf.Ln(s.CodeSpaceAround)
		l.pdf.SetFont(s.CodeFont, "", s.CodeSize)
		l.pdf.SetFillColor(s.CodeFill[0], s.CodeFill[1], s.CodeFill[2])
		pageWidth, _ := l.pdf.GetPageSize()
		width := pageWidth - 2*s.Margin - 2*s.CodePadding
		for _, line := range b.Lines {
			l.pdf.SetX(s.Margin + s.CodePadding)
			l.pdf.CellFormat(width, s.CodeLeading, line, "", 1, "L", true, 0, "")
		}
		l.pdf.Ln(s.CodeSpaceAround)
	case BlockSpacer:
		l.pdf.Ln(s.SpacerHeight)
	default:
		l.pdf.SetFont(s.BodyFont, "", s.BodySize)
		l.pdf.MultiCell(0, s.BodyLeading, b.Text, "", "L", false)
		l.pdf.Ln(s.BodySpaceAfter)
	}
}
