package sidecar

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
	"time"

	"media-archive/internal/hasher"
	"media-archive/internal/mediatypes"
)

func TestMarshalUnmarshal(t *testing.T) {
	in := &Sidecar{
		Digest:       hasher.SumBytes([]byte("xmp")),
		Revision:     7,
		User:         mediatypes.UserMetadata{Rating: 4, Label: "Red", Keywords: []string{"Tom & Jerry", "<beach>", "family"}},
		OriginalName: `IMG "0001".CR3`,
		Kind:         mediatypes.KindImage,
		ImportedAt:   time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC),
	}

	out, err := Unmarshal(Marshal(in))
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if out.Digest != in.Digest || out.Revision != 7 || out.OriginalName != in.OriginalName || out.Kind != in.Kind {
		t.Errorf("archive fields = %+v, want %+v", out, in)
	}
	if !out.ImportedAt.Equal(in.ImportedAt) {
		t.Errorf("ImportedAt = %v, want %v", out.ImportedAt, in.ImportedAt)
	}
	want := mediatypes.UserMetadata{Rating: 4, Label: "Red", Keywords: []string{"<beach>", "Tom & Jerry", "family"}}
	if !reflect.DeepEqual(out.User, want) {
		t.Errorf("User = %+v, want %+v", out.User, want)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	a := &Sidecar{Digest: hasher.SumBytes([]byte("a")), Revision: 1,
		User: mediatypes.UserMetadata{Keywords: []string{"b", "a", "b"}}}
	b := &Sidecar{Digest: a.Digest, Revision: 1,
		User: mediatypes.UserMetadata{Keywords: []string{" a", "b"}}}

	if !bytes.Equal(Marshal(a), Marshal(b)) {
		t.Errorf("equal metadata marshalled differently:\n%s\n%s", Marshal(a), Marshal(b))
	}
}

func TestUnmarshalForeignForms(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want mediatypes.UserMetadata
		rev  int64
	}{
		{
			name: "element form with Seq",
			doc: `<x:xmpmeta xmlns:x="adobe:ns:meta/">
 <rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
  <rdf:Description xmlns:xmp="http://ns.adobe.com/xap/1.0/" xmlns:dc="http://purl.org/dc/elements/1.1/">
   <xmp:Rating>3</xmp:Rating>
   <xmp:Label>Green</xmp:Label>
   <dc:subject><rdf:Seq><rdf:li>zoo</rdf:li><rdf:li>alpaca</rdf:li></rdf:Seq></dc:subject>
  </rdf:Description>
 </rdf:RDF>
</x:xmpmeta>`,
			want: mediatypes.UserMetadata{Rating: 3, Label: "Green", Keywords: []string{"alpaca", "zoo"}},
		},
		{
			name: "bare rdf root and split descriptions",
			doc: `<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
  <rdf:Description xmlns:xmp="http://ns.adobe.com/xap/1.0/" xmp:Rating="5.0"/>
  <rdf:Description xmlns:archive="https://media-archive.dev/ns/archive/1.0/" archive:Revision="12"/>
</rdf:RDF>`,
			want: mediatypes.UserMetadata{Rating: 5},
			rev:  12,
		},
		{
			name: "rejected rating",
			doc: `<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
  <rdf:Description xmlns:xmp="http://ns.adobe.com/xap/1.0/" xmp:Rating="-1"/>
</rdf:RDF>`,
			want: mediatypes.UserMetadata{Rating: -1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Unmarshal([]byte(tt.doc))
			if err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if !reflect.DeepEqual(s.User, tt.want) {
				t.Errorf("User = %+v, want %+v", s.User, tt.want)
			}
			if s.Revision != tt.rev {
				t.Errorf("Revision = %d, want %d", s.Revision, tt.rev)
			}
		})
	}
}

// lightroomPacket carries properties other tools own alongside a rating.
const lightroomPacket = `<x:xmpmeta xmlns:x="adobe:ns:meta/" x:xmptk="Adobe XMP Core 7.0">
 <rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
  <rdf:Description rdf:about=""
    xmlns:xmp="http://ns.adobe.com/xap/1.0/"
    xmlns:photoshop="http://ns.adobe.com/photoshop/1.0/"
    xmlns:dc="http://purl.org/dc/elements/1.1/"
    xmp:Rating="2"
    xmp:CreatorTool="Lightroom"
    photoshop:City="Lyon">
   <dc:title><rdf:Alt><rdf:li xml:lang="x-default">Old town &amp; river</rdf:li></rdf:Alt></dc:title>
  </rdf:Description>
 </rdf:RDF>
</x:xmpmeta>`

func foreignAttr(f Foreign, local string) string {
	for _, a := range f.Attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func TestForeignPropertiesSurviveRewrite(t *testing.T) {
	s, err := Unmarshal([]byte(lightroomPacket))
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if s.User.Rating != 2 {
		t.Errorf("Rating = %d, want 2", s.User.Rating)
	}
	if got := s.Foreign.Namespaces["photoshop"]; got != "http://ns.adobe.com/photoshop/1.0/" {
		t.Errorf("photoshop namespace = %q", got)
	}
	if foreignAttr(s.Foreign, "CreatorTool") != "Lightroom" || foreignAttr(s.Foreign, "City") != "Lyon" {
		t.Errorf("foreign attrs = %+v", s.Foreign.Attrs)
	}
	if len(s.Foreign.Elements) != 1 || s.Foreign.Elements[0].Name.Local != "title" {
		t.Fatalf("foreign elements = %+v, want dc:title", s.Foreign.Elements)
	}

	s.User.Rating = 5
	s.User.Keywords = []string{"travel"}
	s.Revision = 3
	out := Marshal(s)

	back, err := Unmarshal(out)
	if err != nil {
		t.Fatalf("Unmarshal(rewritten) error = %v\n%s", err, out)
	}
	if back.User.Rating != 5 || !reflect.DeepEqual(back.User.Keywords, []string{"travel"}) || back.Revision != 3 {
		t.Errorf("rewritten own fields = %+v rev %d", back.User, back.Revision)
	}
	if foreignAttr(back.Foreign, "CreatorTool") != "Lightroom" || foreignAttr(back.Foreign, "City") != "Lyon" {
		t.Errorf("rewritten foreign attrs = %+v", back.Foreign.Attrs)
	}
	if len(back.Foreign.Elements) != 1 || !bytes.Contains(back.Foreign.Elements[0].Inner, []byte("Old town &amp; river")) {
		t.Errorf("rewritten foreign elements = %+v", back.Foreign.Elements)
	}
	if again := Marshal(back); !bytes.Equal(again, out) {
		t.Errorf("rewrite is not stable:\n%s\n%s", out, again)
	}
}

func TestUnmarshalMalformed(t *testing.T) {
	docs := map[string]string{
		"not xml":        "hello",
		"truncated":      `<x:xmpmeta xmlns:x="adobe:ns:meta/"><rdf:RDF`,
		"no description": `<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#"></rdf:RDF>`,
		"bad revision": `<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
  <rdf:Description xmlns:archive="https://media-archive.dev/ns/archive/1.0/" archive:Revision="two"/>
</rdf:RDF>`,
	}
	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			if _, err := Unmarshal([]byte(doc)); !errors.Is(err, ErrMalformed) {
				t.Errorf("Unmarshal() error = %v, want ErrMalformed", err)
			}
		})
	}
}
