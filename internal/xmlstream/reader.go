// Package xmlstream implements C2: a streaming, namespace-aware XML reader
// used to pull SONG/ACT/MARKER/NOTE/TPAGE_BIT elements out of large disc
// catalog files without holding the whole document in memory, and a
// case-insensitive multi-key attribute/tag probe used throughout the disc
// index and melody fingerprint components.
//
// Namespace prefixes are deliberately ignored when matching element/attribute
// names: disc catalogs use a fixed default namespace declared once at the
// document root, and donor exports are occasionally observed re-prefixing it
// without changing meaning, so only the local name is compared.
package xmlstream

import (
	"encoding/xml"
	"io"
	"strings"
)

// Element is a generically decoded XML element: its attributes and any
// nested elements, each itself an Element. Decoding one Element at a time
// (rather than the whole document) is what keeps this streaming: a catalog
// with thousands of SONG elements never materializes more than one SONG's
// subtree at once.
type Element struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	CharData string     `xml:",chardata"`
	Children []Element  `xml:",any"`
}

// LocalName returns the element's tag name without any namespace prefix.
func (e Element) LocalName() string {
	return e.XMLName.Local
}

// Attr returns the first attribute value matching any of the given
// candidate names, case-insensitively. This is the "duck-typed" probe the
// design notes call for in place of runtime reflection: disc exports spell
// identifier attributes inconsistently (ID, SONG_ID, id, song_id).
func (e Element) Attr(candidates ...string) (string, bool) {
	for _, cand := range candidates {
		for _, a := range e.Attrs {
			if strings.EqualFold(a.Name.Local, cand) {
				return a.Value, true
			}
		}
	}
	return "", false
}

// Child returns the first immediate child element whose local name matches
// any of the given candidates, case-insensitively.
func (e Element) Child(candidates ...string) (Element, bool) {
	for _, cand := range candidates {
		for _, c := range e.Children {
			if strings.EqualFold(c.LocalName(), cand) {
				return c, true
			}
		}
	}
	return Element{}, false
}

// ChildrenNamed returns every immediate child element whose local name matches
// the given candidate, case-insensitively, preserving document order.
func (e Element) ChildrenNamed(name string) []Element {
	var out []Element
	for _, c := range e.Children {
		if strings.EqualFold(c.LocalName(), name) {
			out = append(out, c)
		}
	}
	return out
}

// Text returns the first attribute value matching any of the candidate
// names, falling back to the trimmed character data of the first immediate
// child with one of those tag names. This mirrors the "attribute or immediate child" lookup
// rule for SONG/ACT identifiers and title/artist fields.
func (e Element) Text(candidates ...string) (string, bool) {
	if v, ok := e.Attr(candidates...); ok {
		return v, true
	}
	if c, ok := e.Child(candidates...); ok {
		if v := strings.TrimSpace(c.CharData); v != "" {
			return v, true
		}
	}
	return "", false
}

// Reader streams top-level repeated elements (SONG, ACT, TPAGE_BIT, ...) out
// of a document one at a time via xml.Decoder.Token, decoding only the
// matched element's own subtree at each step.
type Reader struct {
	dec *xml.Decoder
}

// NewReader wraps r for streaming element-at-a-time decoding.
func NewReader(r io.Reader) *Reader {
	dec := xml.NewDecoder(r)
	dec.Strict = false
	return &Reader{dec: dec}
}

// Next scans forward for the next start element whose local name matches
// any of the given candidates (case-insensitive), decodes its full subtree,
// and returns it. io.EOF is returned once the stream is exhausted.
func (r *Reader) Next(candidates ...string) (Element, error) {
	for {
		tok, err := r.dec.Token()
		if err != nil {
			return Element{}, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if !matchesAny(se.Name.Local, candidates) {
			continue
		}
		var el Element
		if err := r.dec.DecodeElement(&el, &se); err != nil {
			return Element{}, err
		}
		return el, nil
	}
}

// ForEach invokes fn once per matching top-level element until the stream is
// exhausted or fn returns an error. io.EOF from the underlying stream is not
// propagated to the caller.
func (r *Reader) ForEach(candidates []string, fn func(Element) error) error {
	for {
		el, err := r.Next(candidates...)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(el); err != nil {
			return err
		}
	}
}

func matchesAny(name string, candidates []string) bool {
	for _, c := range candidates {
		if strings.EqualFold(name, c) {
			return true
		}
	}
	return false
}
