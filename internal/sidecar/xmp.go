package sidecar

import (
	"bytes"
	"cmp"
	"encoding/xml"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"media-archive/internal/hasher"
	"media-archive/internal/mediatypes"
)

const (
	nsMeta    = "adobe:ns:meta/"
	nsRDF     = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	nsXMP     = "http://ns.adobe.com/xap/1.0/"
	nsDC      = "http://purl.org/dc/elements/1.1/"
	nsArchive = "https://media-archive.dev/ns/archive/1.0/"
)

// ErrMalformed is returned when a sidecar cannot be parsed as XMP.
var ErrMalformed = errors.New("malformed sidecar")

// ErrInvalidMetadata rejects a user edit before anything is written.
var ErrInvalidMetadata = errors.New("invalid user metadata")

// Sidecar is the portable metadata for one asset.
type Sidecar struct {
	Digest       hasher.Digest
	Revision     int64
	User         mediatypes.UserMetadata
	OriginalName string
	Kind         mediatypes.Kind
	ImportedAt   time.Time

	// Foreign is what other tools wrote into the packet.
	Foreign Foreign

	// Hash is the BLAKE3 digest of the file bytes as read or written. It
	// is not part of the encoding.
	Hash string
}

// ownPrefixes are the namespaces Marshal always declares.
var ownPrefixes = map[string]string{
	"x":       nsMeta,
	"rdf":     nsRDF,
	"xmp":     nsXMP,
	"dc":      nsDC,
	"archive": nsArchive,
}

// Foreign holds XMP properties this package does not own. Unmarshal
// collects them from every rdf:Description and Marshal writes them back,
// so a rewrite only changes the archive's own fields.
type Foreign struct {
	// Namespaces maps prefixes declared in the source packet to URIs.
	Namespaces map[string]string
	// Attrs are simple properties in attribute form, sorted by name.
	Attrs []xml.Attr
	// Elements are property elements in document order.
	Elements []ForeignElement
}

// ForeignElement is one property element kept verbatim.
type ForeignElement struct {
	Name  xml.Name
	Attrs []xml.Attr
	Inner []byte
}

// prefix returns the prefix bound to uri, or "" when none is.
func (f Foreign) prefix(uri string) string {
	for p, u := range ownPrefixes {
		if u == uri {
			return p
		}
	}
	for _, p := range slices.Sorted(maps.Keys(f.Namespaces)) {
		if f.Namespaces[p] == uri {
			return p
		}
	}
	return ""
}

func (f Foreign) qname(n xml.Name) string {
	switch n.Space {
	case "":
		return n.Local
	case "xmlns":
		return "xmlns:" + n.Local
	case "xml", "http://www.w3.org/XML/1998/namespace":
		return "xml:" + n.Local
	}
	if p := f.prefix(n.Space); p != "" {
		return p + ":" + n.Local
	}
	return n.Local
}

// known reports whether n can be written back with a bound prefix.
func (f Foreign) known(n xml.Name) bool {
	return n.Space != "" && f.prefix(n.Space) != ""
}

// declare records the xmlns attributes among attrs. Prefixes this package
// owns are never rebound.
func (f *Foreign) declare(attrs []xml.Attr) {
	for _, a := range attrs {
		if a.Name.Space != "xmlns" {
			continue
		}
		if _, own := ownPrefixes[a.Name.Local]; own {
			continue
		}
		if f.Namespaces == nil {
			f.Namespaces = make(map[string]string)
		}
		f.Namespaces[a.Name.Local] = a.Value
	}
}

// collect adds the unowned properties of one rdf:Description. Namespaces
// must already be declared; content in an unbound namespace is dropped.
func (f *Foreign) collect(d rdfDescription) {
	for _, a := range d.OtherAttrs {
		switch {
		case a.Name.Space == "xmlns", a.Name.Space == "":
		case a.Name.Space == nsRDF && a.Name.Local == "about":
		case f.known(a.Name):
			f.Attrs = slices.DeleteFunc(f.Attrs, func(o xml.Attr) bool { return o.Name == a.Name })
			f.Attrs = append(f.Attrs, a)
		}
	}
	slices.SortFunc(f.Attrs, func(a, b xml.Attr) int {
		return cmp.Or(cmp.Compare(a.Name.Space, b.Name.Space), cmp.Compare(a.Name.Local, b.Name.Local))
	})
	for _, e := range d.Other {
		if f.known(e.XMLName) {
			f.Elements = append(f.Elements, ForeignElement{Name: e.XMLName, Attrs: e.Attrs, Inner: e.Inner})
		}
	}
}

// Marshal renders s as an XMP packet. Output is deterministic so equal
// sidecars always hash equally.
func Marshal(s *Sidecar) []byte {
	u := s.User.Normalize()

	var b bytes.Buffer
	b.WriteString("<?xpacket begin=\"\ufeff\" id=\"W5M0MpCehiHzreSzNTczkc9d\"?>\n")
	b.WriteString(`<x:xmpmeta xmlns:x="` + nsMeta + `">` + "\n")
	b.WriteString(` <rdf:RDF xmlns:rdf="` + nsRDF + `">` + "\n")
	b.WriteString(`  <rdf:Description rdf:about=""` + "\n")
	b.WriteString(`    xmlns:xmp="` + nsXMP + `"` + "\n")
	b.WriteString(`    xmlns:dc="` + nsDC + `"` + "\n")
	b.WriteString(`    xmlns:archive="` + nsArchive + `"` + "\n")
	for _, p := range slices.Sorted(maps.Keys(s.Foreign.Namespaces)) {
		attr(&b, "xmlns:"+p, s.Foreign.Namespaces[p])
	}
	attr(&b, "xmp:Rating", strconv.Itoa(u.Rating))
	if u.Label != "" {
		attr(&b, "xmp:Label", u.Label)
	}
	attr(&b, "archive:Revision", strconv.FormatInt(s.Revision, 10))
	attr(&b, "archive:Digest", string(s.Digest))
	if s.OriginalName != "" {
		attr(&b, "archive:OriginalName", s.OriginalName)
	}
	if s.Kind != "" {
		attr(&b, "archive:Kind", string(s.Kind))
	}
	if !s.ImportedAt.IsZero() {
		attr(&b, "archive:ImportedAt", s.ImportedAt.UTC().Format(time.RFC3339))
	}

	f := s.Foreign
	for _, a := range f.Attrs {
		attr(&b, f.qname(a.Name), a.Value)
	}

	if len(u.Keywords) == 0 && len(f.Elements) == 0 {
		b.WriteString("/>\n")
	} else {
		b.WriteString(">\n")
		if len(u.Keywords) > 0 {
			b.WriteString("   <dc:subject>\n    <rdf:Bag>\n")
			for _, k := range u.Keywords {
				b.WriteString("     <rdf:li>")
				_ = xml.EscapeText(&b, []byte(k))
				b.WriteString("</rdf:li>\n")
			}
			b.WriteString("    </rdf:Bag>\n   </dc:subject>\n")
		}
		for _, e := range f.Elements {
			name := f.qname(e.Name)
			b.WriteString("   <" + name)
			for _, a := range e.Attrs {
				b.WriteString(" " + f.qname(a.Name) + `="`)
				_ = xml.EscapeText(&b, []byte(a.Value))
				b.WriteString(`"`)
			}
			if len(e.Inner) == 0 {
				b.WriteString("/>\n")
				continue
			}
			b.WriteString(">")
			b.Write(e.Inner)
			b.WriteString("</" + name + ">\n")
		}
		b.WriteString("  </rdf:Description>\n")
	}
	b.WriteString(" </rdf:RDF>\n</x:xmpmeta>\n")
	b.WriteString(`<?xpacket end="w"?>` + "\n")
	return b.Bytes()
}

func attr(b *bytes.Buffer, name, value string) {
	b.WriteString("    " + name + `="`)
	_ = xml.EscapeText(b, []byte(value))
	b.WriteString(`"` + "\n")
}

type rdfList struct {
	Items []string `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# li"`
}

type rdfContainer struct {
	Bag rdfList `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# Bag"`
	Seq rdfList `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# Seq"`
	Alt rdfList `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# Alt"`
}

// rdfDescription accepts both the attribute form we write and the element
// form other tools use for simple properties.
type rdfDescription struct {
	RatingAttr string `xml:"http://ns.adobe.com/xap/1.0/ Rating,attr"`
	RatingElem string `xml:"http://ns.adobe.com/xap/1.0/ Rating"`
	LabelAttr  string `xml:"http://ns.adobe.com/xap/1.0/ Label,attr"`
	LabelElem  string `xml:"http://ns.adobe.com/xap/1.0/ Label"`

	Subject rdfContainer `xml:"http://purl.org/dc/elements/1.1/ subject"`

	RevisionAttr     string `xml:"https://media-archive.dev/ns/archive/1.0/ Revision,attr"`
	RevisionElem     string `xml:"https://media-archive.dev/ns/archive/1.0/ Revision"`
	DigestAttr       string `xml:"https://media-archive.dev/ns/archive/1.0/ Digest,attr"`
	DigestElem       string `xml:"https://media-archive.dev/ns/archive/1.0/ Digest"`
	OriginalNameAttr string `xml:"https://media-archive.dev/ns/archive/1.0/ OriginalName,attr"`
	OriginalNameElem string `xml:"https://media-archive.dev/ns/archive/1.0/ OriginalName"`
	KindAttr         string `xml:"https://media-archive.dev/ns/archive/1.0/ Kind,attr"`
	KindElem         string `xml:"https://media-archive.dev/ns/archive/1.0/ Kind"`
	ImportedAtAttr   string `xml:"https://media-archive.dev/ns/archive/1.0/ ImportedAt,attr"`
	ImportedAtElem   string `xml:"https://media-archive.dev/ns/archive/1.0/ ImportedAt"`

	Other      []foreignXML `xml:",any"`
	OtherAttrs []xml.Attr   `xml:",any,attr"`
}

type foreignXML struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Inner   []byte     `xml:",innerxml"`
}

type rdfRoot struct {
	Attrs        []xml.Attr       `xml:",any,attr"`
	Descriptions []rdfDescription `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# Description"`
}

type xmpMeta struct {
	XMLName xml.Name   `xml:"adobe:ns:meta/ xmpmeta"`
	Attrs   []xml.Attr `xml:",any,attr"`
	RDF     rdfRoot    `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# RDF"`
}

// Unmarshal parses an XMP packet. Properties may be spread over several
// rdf:Description elements; later values win. A bare rdf:RDF root without
// the x:xmpmeta wrapper is accepted. Properties outside the archive's own
// fields are kept in Foreign.
func Unmarshal(data []byte) (*Sidecar, error) {
	var descs []rdfDescription
	s := &Sidecar{}

	var meta xmpMeta
	if err := xml.Unmarshal(data, &meta); err == nil {
		descs = meta.RDF.Descriptions
		s.Foreign.declare(meta.Attrs)
		s.Foreign.declare(meta.RDF.Attrs)
	} else {
		var root struct {
			XMLName xml.Name `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# RDF"`
			rdfRoot
		}
		if err2 := xml.Unmarshal(data, &root); err2 != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		descs = root.Descriptions
		s.Foreign.declare(root.Attrs)
	}
	if len(descs) == 0 {
		return nil, fmt.Errorf("%w: no rdf:Description", ErrMalformed)
	}

	for _, d := range descs {
		s.Foreign.declare(d.OtherAttrs)
	}
	for _, d := range descs {
		s.Foreign.collect(d)
		if v := pick(d.RatingAttr, d.RatingElem); v != "" {
			// Some tools write fractional ratings.
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: rating %q", ErrMalformed, v)
			}
			s.User.Rating = int(f)
		}
		if v := pick(d.LabelAttr, d.LabelElem); v != "" {
			s.User.Label = v
		}
		if items := d.Subject.items(); len(items) > 0 {
			s.User.Keywords = items
		}
		if v := pick(d.RevisionAttr, d.RevisionElem); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: revision %q", ErrMalformed, v)
			}
			s.Revision = n
		}
		if v := pick(d.DigestAttr, d.DigestElem); v != "" {
			s.Digest = hasher.Digest(strings.ToLower(v))
		}
		if v := pick(d.OriginalNameAttr, d.OriginalNameElem); v != "" {
			s.OriginalName = v
		}
		if v := pick(d.KindAttr, d.KindElem); v != "" {
			s.Kind = mediatypes.Kind(v)
		}
		if v := pick(d.ImportedAtAttr, d.ImportedAtElem); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return nil, fmt.Errorf("%w: imported at %q", ErrMalformed, v)
			}
			s.ImportedAt = t.UTC()
		}
	}
	s.User = s.User.Normalize()
	return s, nil
}

func (c rdfContainer) items() []string {
	switch {
	case len(c.Bag.Items) > 0:
		return c.Bag.Items
	case len(c.Seq.Items) > 0:
		return c.Seq.Items
	}
	return c.Alt.Items
}

func pick(attr, elem string) string {
	if v := strings.TrimSpace(attr); v != "" {
		return v
	}
	return strings.TrimSpace(elem)
}
