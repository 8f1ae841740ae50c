package sanitize

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultCSP is injected into documents lacking a CSP meta tag. It allows
// wildcard network access because player assets load from arbitrary CDNs,
// while still giving every proxied document a structural policy.
const DefaultCSP = "default-src 'self' *; script-src 'self' 'unsafe-inline' 'unsafe-eval' *; " +
	"style-src 'self' 'unsafe-inline' *; img-src 'self' data: *; media-src 'self' blob: *; " +
	"frame-src *; connect-src *"

// DefaultTokens are the built-in sandbox/fingerprint detection signatures.
// They are matched as case-insensitive substrings.
var DefaultTokens = []string{
	"sandDetect",
	"sandbox",
	"fingerprint",
	"browserfingerprint",
	"devicefingerprint",
	"canvasfingerprint",
	"webglfingerprint",
	"audioprint",
}

// handlerAttrs is the fixed set of inline event handler attributes examined
// by the stripping pass.
var handlerAttrs = []string{
	"onerror", "onload", "onclick", "ondblclick",
	"onmousedown", "onmouseup", "onmouseover", "onmousemove", "onmouseout",
	"onmouseenter", "onmouseleave",
	"onkeydown", "onkeyup", "onkeypress",
	"ontouchstart", "ontouchend", "ontouchmove", "ontouchcancel",
	"onfocus", "onblur", "onchange", "onsubmit", "oninput",
	"oncontextmenu",
}

// preservedElements keep their inline handlers because player functionality
// depends on their natural event wiring.
var preservedElements = map[string]struct{}{
	"video":  {},
	"audio":  {},
	"source": {},
	"track":  {},
	"iframe": {},
	"embed":  {},
}

// escapeGlobals are the parent-window references whose presence in a handler
// marks it as a sandbox escape attempt.
var escapeGlobals = []string{"window.", "parent.", "top.", "self."}

// Report summarizes a single sanitization for observability. It is derived
// data and never persisted.
type Report struct {
	OriginalSize  int     `json:"originalSize"`
	SanitizedSize int     `json:"sanitizedSize"`
	Reduction     int     `json:"reduction"`
	ReductionPct  float64 `json:"reductionPct"`
}

// TokenSource supplies the operator-extensible detection token list.
type TokenSource interface {
	Tokens() []string
}

type staticTokens []string

func (t staticTokens) Tokens() []string { return t }

// Options configures a Sanitizer.
type Options struct {
	// Tokens supplements DefaultTokens; nil means defaults only.
	Tokens TokenSource
	// CSP overrides DefaultCSP when non-empty.
	CSP string
}

// Sanitizer transforms untrusted third-party HTML into a safe variant. It is
// a pure transformation: no I/O, no execution of the input, safe for
// concurrent use.
type Sanitizer struct {
	tokens TokenSource
	csp    string
}

// New creates a Sanitizer.
func New(opts Options) *Sanitizer {
	tokens := opts.Tokens
	if tokens == nil {
		tokens = staticTokens(nil)
	}
	csp := opts.CSP
	if csp == "" {
		csp = DefaultCSP
	}
	return &Sanitizer{tokens: tokens, csp: csp}
}

// Sanitize applies the removal passes in order and returns the serialized
// document plus a size report. Malformed input never panics; if the document
// cannot be parsed or re-serialized at all, the input is returned unchanged.
func (s *Sanitizer) Sanitize(rawHTML string) (string, Report) {
	originalSize := len(rawHTML)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return rawHTML, Report{OriginalSize: originalSize, SanitizedSize: originalSize}
	}

	tokens := s.activeTokens()

	removeMaliciousObjects(doc, tokens)
	removeMaliciousScripts(doc, tokens)
	stripDangerousHandlers(doc)
	removeTrackingMeta(doc)
	s.injectCSP(doc)

	out, err := doc.Html()
	if err != nil {
		return rawHTML, Report{OriginalSize: originalSize, SanitizedSize: originalSize}
	}

	report := Report{
		OriginalSize:  originalSize,
		SanitizedSize: len(out),
		Reduction:     originalSize - len(out),
	}
	if originalSize > 0 {
		report.ReductionPct = float64(report.Reduction) / float64(originalSize) * 100
	}
	return out, report
}

// activeTokens merges defaults with the injected source, lowercased for
// substring matching.
func (s *Sanitizer) activeTokens() []string {
	extra := s.tokens.Tokens()
	tokens := make([]string, 0, len(DefaultTokens)+len(extra))
	for _, t := range DefaultTokens {
		tokens = append(tokens, strings.ToLower(t))
	}
	for _, t := range extra {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

func matchesToken(value string, tokens []string) bool {
	lower := strings.ToLower(value)
	for _, token := range tokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

// removeMaliciousObjects drops <object> elements used for sandbox detection:
// a data-URI object whose onerror fires reliably and calls back into
// window.* is the signature this pass targets.
func removeMaliciousObjects(doc *goquery.Document, tokens []string) {
	doc.Find("object").Each(func(_ int, sel *goquery.Selection) {
		if onerror, ok := sel.Attr("onerror"); ok && matchesToken(onerror, tokens) {
			sel.Remove()
			return
		}
		if id, ok := sel.Attr("id"); ok && strings.Contains(strings.ToLower(id), "sand") {
			sel.Remove()
		}
	})
}

// removeMaliciousScripts drops <script> elements whose src or inline body
// matches a detection token.
func removeMaliciousScripts(doc *goquery.Document, tokens []string) {
	doc.Find("script").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok && matchesToken(src, tokens) {
			sel.Remove()
			return
		}
		if matchesToken(sel.Text(), tokens) {
			sel.Remove()
		}
	})
}

func referencesAncestorWindow(handler string) bool {
	lower := strings.ToLower(handler)
	for _, global := range escapeGlobals {
		if strings.Contains(lower, global) {
			return true
		}
	}
	return false
}

// stripDangerousHandlers removes inline handlers that reach for the parent
// window from every element outside the preserve list. Handlers without such
// references are assumed to be legitimate player UI wiring and kept.
func stripDangerousHandlers(doc *goquery.Document) {
	doc.Find("*").Each(func(_ int, sel *goquery.Selection) {
		if _, preserved := preservedElements[goquery.NodeName(sel)]; preserved {
			return
		}
		for _, attr := range handlerAttrs {
			if value, ok := sel.Attr(attr); ok && referencesAncestorWindow(value) {
				sel.RemoveAttr(attr)
			}
		}
	})
}

// removeTrackingMeta drops meta tags used for tracking or fingerprinting.
func removeTrackingMeta(doc *goquery.Document) {
	doc.Find("meta").Each(func(_ int, sel *goquery.Selection) {
		name, _ := sel.Attr("name")
		httpEquiv, _ := sel.Attr("http-equiv")
		content, _ := sel.Attr("content")

		combined := strings.ToLower(name) + " " + strings.ToLower(httpEquiv)
		if strings.Contains(combined, "fingerprint") ||
			strings.Contains(combined, "tracking") ||
			strings.Contains(combined, "analytics") {
			sel.Remove()
			return
		}
		if strings.Contains(strings.ToLower(content), "fingerprint") {
			sel.Remove()
		}
	})
}

// injectCSP prepends a Content-Security-Policy meta tag to <head>, but only
// when the document carries none. The parser synthesizes <head> for every
// document, so the guard below is for defect tolerance, not the normal path.
func (s *Sanitizer) injectCSP(doc *goquery.Document) {
	hasCSP := false
	doc.Find("meta").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if httpEquiv, ok := sel.Attr("http-equiv"); ok &&
			strings.EqualFold(strings.TrimSpace(httpEquiv), "Content-Security-Policy") {
			hasCSP = true
			return false
		}
		return true
	})
	if hasCSP {
		return
	}

	head := doc.Find("head").First()
	if head.Length() == 0 {
		doc.Find("html").First().PrependHtml("<head></head>")
		head = doc.Find("head").First()
	}
	head.PrependHtml(fmt.Sprintf(`<meta http-equiv="Content-Security-Policy" content="%s"/>`, s.csp))
}
