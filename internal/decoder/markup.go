package decoder

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// element is a generic parsed markup node. The device documents have no
// fixed schema worth struct tags, so the decoder walks a plain tree.
type element struct {
	name     string
	attrs    map[string]string
	text     string
	children []*element
}

// tagName matches the name portion of an opening or closing tag so that
// sanitizeMarkup can rewrite names a strict parser would reject.
var tagName = regexp.MustCompile(`<(/?)([A-Za-z_][^>\s/]*)`)

// sanitizeMarkup rewrites tag names that are not safe identifiers before the
// document reaches the strict XML parser. The known offender is the literal
// period in "<DeviceNo.>"; periods are stripped from tag names only, never
// from text content (IP addresses live in text).
func sanitizeMarkup(doc string) string {
	return tagName.ReplaceAllStringFunc(doc, func(tag string) string {
		return strings.ReplaceAll(tag, ".", "")
	})
}

// parseDocument sanitizes the document and builds its element tree with a
// streaming token parse.
func parseDocument(doc string) (*element, error) {
	dec := xml.NewDecoder(strings.NewReader(sanitizeMarkup(doc)))

	var root *element
	var stack []*element
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("parse markup: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			el := &element{name: t.Name.Local, attrs: make(map[string]string)}
			for _, a := range t.Attr {
				el.attrs[a.Name.Local] = a.Value
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("parse markup: multiple root elements")
				}
				root = el
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, el)
			}
			stack = append(stack, el)
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("parse markup: unexpected closing tag %s", t.Name.Local)
			}
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text += string(t)
			}
		}
	}
	if root == nil {
		return nil, fmt.Errorf("parse markup: no root element")
	}
	if len(stack) > 0 {
		return nil, fmt.Errorf("parse markup: unterminated element %s", stack[len(stack)-1].name)
	}
	return root, nil
}

// findFirst returns the first element named name in document order,
// including the receiver itself.
func (e *element) findFirst(name string) *element {
	if e == nil {
		return nil
	}
	if e.name == name {
		return e
	}
	for _, c := range e.children {
		if found := c.findFirst(name); found != nil {
			return found
		}
	}
	return nil
}

// childText returns the text of a direct child, or "" when absent.
func (e *element) childText(name string) string {
	for _, c := range e.children {
		if c.name == name {
			return c.text
		}
	}
	return ""
}

// findText returns the text of the first element named name anywhere in the
// subtree, or "" when absent.
func (e *element) findText(name string) string {
	if found := e.findFirst(name); found != nil {
		return found.text
	}
	return ""
}
