// Package report renders capacity analyses for terminals and Matrix messages.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"github.com/liminalpurple/stegmeter/internal/capacity"
	"github.com/liminalpurple/stegmeter/internal/session"
	"github.com/liminalpurple/stegmeter/internal/storage"
)

// Format selects a renderer.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// ParseFormat accepts text, markdown (md) or html.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "text", "txt":
		return FormatText, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("unknown format %q (want text, markdown or html)", s)
	}
}

// Report is everything shown about one cover.
type Report struct {
	ID          string
	Name        string
	Source      string
	MimeType    string
	SizeBytes   int64
	Dimensions  capacity.Dimensions
	AnalyzedAt  time.Time
	Client      capacity.Estimate
	Server      capacity.Estimate
	Final       capacity.Estimate
	ServerError string

	Payload  session.PayloadKind
	Usage    capacity.UsageState
	HasUsage bool
}

// FromResult builds a report from a settled session analysis.
func FromResult(res *session.Result, at time.Time) *Report {
	r := &Report{
		AnalyzedAt: at,
		Client:     res.Client,
		Server:     res.Server,
		Final:      res.Final,
		Payload:    res.Payload,
		Usage:      res.Usage,
		HasUsage:   res.HasUsage,
	}
	if img := res.Image; img != nil {
		r.ID = img.ID
		r.Name = img.Name
		r.Source = img.Ref
		r.MimeType = img.Info.MimeType
		r.SizeBytes = img.Info.SizeBytes
		r.Dimensions = img.Info.Dimensions()
	}
	if res.ServerErr != nil {
		r.ServerError = res.ServerErr.Error()
	}
	return r
}

// FromAnalysis rebuilds a report from history.
func FromAnalysis(a storage.Analysis) *Report {
	r := &Report{
		ID:          a.ID,
		Name:        a.Name,
		Source:      a.Source,
		MimeType:    a.MimeType,
		SizeBytes:   a.SizeBytes,
		Dimensions:  capacity.Dimensions{Width: a.Width, Height: a.Height},
		AnalyzedAt:  a.AnalyzedAt,
		Client:      capacity.Estimate{MaxBytes: a.ClientBytes, Source: capacity.SourceClient, Degraded: a.Degraded},
		Final:       capacity.Estimate{MaxBytes: a.FinalBytes, Source: capacity.Source(a.FinalSource)},
		ServerError: a.ServerError,
	}
	if a.ServerBytes > 0 {
		r.Server = capacity.ServerEstimate(a.ServerBytes)
	}
	if r.Final.Source == capacity.SourceClient {
		r.Final.Degraded = a.Degraded
	}
	return r
}

// Render renders r in format f.
func (r *Report) Render(f Format) string {
	switch f {
	case FormatMarkdown:
		return r.Markdown()
	case FormatHTML:
		return r.HTML()
	default:
		return r.Text()
	}
}

// Text renders an aligned plain-text report.
func (r *Report) Text() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Cover:     %s\n", r.coverLine())
	if r.ID != "" {
		fmt.Fprintf(&sb, "ID:        %s\n", shortID(r.ID))
	}
	fmt.Fprintf(&sb, "Capacity:  %s (%s)\n", Bytes(r.Final.MaxBytes), describeSource(r.Final))
	fmt.Fprintf(&sb, "  client:  %s\n", clientLine(r.Client))
	fmt.Fprintf(&sb, "  server:  %s\n", r.serverLine())

	b := capacity.Describe(r.Final.MaxBytes)
	fmt.Fprintf(&sb, "Fits:      %s\n", fitsLine(b))

	if r.HasUsage {
		fmt.Fprintf(&sb, "Payload:   %s %s\n", r.Payload, UsageLine(r.Usage))
	}

	return sb.String()
}

// Markdown renders the report for Matrix.
func (r *Report) Markdown() string {
	var sb strings.Builder

	title := r.Name
	if title == "" {
		title = "cover"
	}
	fmt.Fprintf(&sb, "**Capacity of %s**\n\n", title)
	fmt.Fprintf(&sb, "- Image: %s\n", r.coverLine())
	if r.ID != "" {
		fmt.Fprintf(&sb, "- ID: `%s`\n", shortID(r.ID))
	}
	fmt.Fprintf(&sb, "- Capacity: **%s** (%s)\n", Bytes(r.Final.MaxBytes), describeSource(r.Final))
	fmt.Fprintf(&sb, "- Client estimate: %s\n", clientLine(r.Client))
	fmt.Fprintf(&sb, "- Server estimate: %s\n", r.serverLine())
	fmt.Fprintf(&sb, "- Fits: %s\n", fitsLine(capacity.Describe(r.Final.MaxBytes)))

	if r.HasUsage {
		fmt.Fprintf(&sb, "- Payload (%s): %s\n", r.Payload, UsageLine(r.Usage))
	}

	return sb.String()
}

// HTML renders the Markdown report as HTML.
func (r *Report) HTML() string {
	return MarkdownToHTML(r.Markdown())
}

// Summary is the one-line form used in history listings.
func (r *Report) Summary() string {
	when := ""
	if !r.AnalyzedAt.IsZero() {
		when = " - " + humanize.Time(r.AnalyzedAt)
	}
	return fmt.Sprintf("%s  %-24s %s  %s (%s)%s",
		shortID(r.ID), truncate(r.Name, 24), r.Dimensions, Bytes(r.Final.MaxBytes), r.Final.Source, when)
}

// UsageLine describes a usage state, for example "5 bytes of 10,240 bytes (10 KiB) (0%, normal)".
func UsageLine(u capacity.UsageState) string {
	line := fmt.Sprintf("%s of %s (%d%%, %s)", Bytes(u.UsedBytes), Bytes(u.Capacity.MaxBytes), u.Percentage, u.Band)
	if u.Exceeded() {
		line += fmt.Sprintf(" - over by %s", Bytes(u.UsedBytes-u.Capacity.MaxBytes))
	}
	return line
}

// Bar draws a width-character meter for u.
func Bar(u capacity.UsageState, width int) string {
	if width <= 0 {
		return ""
	}
	filled := u.Percentage * width / 100
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]"
}

// Bytes formats a byte count with its IEC size, for example "660,960 bytes (645 KiB)".
func Bytes(n int64) string {
	if n < 0 {
		n = 0
	}
	if n < 1024 {
		return fmt.Sprintf("%s bytes", humanize.Comma(n))
	}
	return fmt.Sprintf("%s bytes (%s)", humanize.Comma(n), humanize.IBytes(uint64(n)))
}

// MarkdownToHTML converts markdown to HTML for Matrix formatted_body
func MarkdownToHTML(text string) string {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs
	p := parser.NewWithExtensions(extensions)

	doc := p.Parse([]byte(text))

	htmlFlags := html.CommonFlags | html.HrefTargetBlank
	renderer := html.NewRenderer(html.RendererOptions{Flags: htmlFlags})

	return string(markdown.Render(doc, renderer))
}

func (r *Report) coverLine() string {
	parts := []string{}
	if r.Dimensions.Width > 0 && r.Dimensions.Height > 0 {
		parts = append(parts, r.Dimensions.String())
	} else {
		parts = append(parts, "unreadable dimensions")
	}
	if r.MimeType != "" {
		parts = append(parts, r.MimeType)
	}
	if r.SizeBytes > 0 {
		parts = append(parts, humanize.IBytes(uint64(r.SizeBytes)))
	}

	name := r.Name
	if name == "" {
		name = r.Source
	}
	return fmt.Sprintf("%s (%s)", name, strings.Join(parts, ", "))
}

func (r *Report) serverLine() string {
	if r.Server.Known() {
		return Bytes(r.Server.MaxBytes)
	}
	if r.ServerError != "" {
		return "unavailable: " + r.ServerError
	}
	return "not requested"
}

func describeSource(e capacity.Estimate) string {
	switch {
	case e.Source == capacity.SourceServer:
		return "server"
	case e.Degraded:
		return "fallback, image dimensions unreadable"
	default:
		return "client heuristic"
	}
}

func clientLine(e capacity.Estimate) string {
	if e.Degraded {
		return fmt.Sprintf("%s (fixed fallback, dimensions unreadable)", Bytes(e.MaxBytes))
	}
	return fmt.Sprintf("%s (heuristic: %d bits/pixel, %.0f%% usable)",
		Bytes(e.MaxBytes), capacity.BitsPerPixel, capacity.UsableFraction*100)
}

func fitsLine(b capacity.Breakdown) string {
	jpeg := "no"
	if b.SmallJPEG {
		jpeg = "yes"
	}
	return fmt.Sprintf("~%s characters, ~%s words, ~%d PDF pages, ~%ds of MP3, small JPEG: %s",
		humanize.Comma(b.Characters), humanize.Comma(b.Words), b.PDFPages, b.MP3Seconds, jpeg)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
