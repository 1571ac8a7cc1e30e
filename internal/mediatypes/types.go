package mediatypes

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Kind is the closed set of asset variants. It is decided once, at
// discovery, and every later stage dispatches on it.
type Kind string

const (
	// KindImage is a still image, including camera RAW files.
	KindImage Kind = "image"
	// KindVideo is a video container.
	KindVideo Kind = "video"
	// KindDocument is a non-visual document. Documents never enter the
	// derivative image path.
	KindDocument Kind = "document"
)

// Valid reports whether k is one of the three asset variants.
func (k Kind) Valid() bool {
	switch k {
	case KindImage, KindVideo, KindDocument:
		return true
	}
	return false
}

// ErrUnsupported is returned by Classify for files that are not media the
// archive accepts.
var ErrUnsupported = errors.New("unsupported file type")

// Format describes a concrete file format within a Kind.
type Format struct {
	Kind      Kind
	Extension string // lowercase, with leading dot
	MimeType  string
	// Raw marks camera RAW formats. Their pixels are never decoded; only an
	// embedded preview may feed the derivative generator.
	Raw bool
	// Decodable marks formats whose pixels the image pipeline can decode
	// directly (Go decoders or libvips).
	Decodable bool
}

// HasDerivatives reports whether the format can yield any derivative.
func (f Format) HasDerivatives() bool {
	return f.Kind == KindImage || f.Kind == KindVideo
}

func image(ext, mime string) Format {
	return Format{Kind: KindImage, Extension: ext, MimeType: mime, Decodable: true}
}

func raw(ext, mime string) Format {
	return Format{Kind: KindImage, Extension: ext, MimeType: mime, Raw: true}
}

func video(ext, mime string) Format {
	return Format{Kind: KindVideo, Extension: ext, MimeType: mime}
}

func document(ext, mime string) Format {
	return Format{Kind: KindDocument, Extension: ext, MimeType: mime}
}

// formats is keyed by lowercase extension.
var formats = map[string]Format{
	// Images
	".jpg":  image(".jpg", "image/jpeg"),
	".jpeg": image(".jpeg", "image/jpeg"),
	".png":  image(".png", "image/png"),
	".gif":  image(".gif", "image/gif"),
	".bmp":  image(".bmp", "image/bmp"),
	".webp": image(".webp", "image/webp"),
	".tiff": image(".tiff", "image/tiff"),
	".tif":  image(".tif", "image/tiff"),
	".heic": image(".heic", "image/heic"),
	".heif": image(".heif", "image/heif"),
	".avif": image(".avif", "image/avif"),

	// Camera RAW
	".dng": raw(".dng", "image/x-adobe-dng"),
	".cr2": raw(".cr2", "image/x-canon-cr2"),
	".cr3": raw(".cr3", "image/x-canon-cr3"),
	".crw": raw(".crw", "image/x-canon-crw"),
	".nef": raw(".nef", "image/x-nikon-nef"),
	".nrw": raw(".nrw", "image/x-nikon-nrw"),
	".arw": raw(".arw", "image/x-sony-arw"),
	".srf": raw(".srf", "image/x-sony-srf"),
	".sr2": raw(".sr2", "image/x-sony-sr2"),
	".raf": raw(".raf", "image/x-fuji-raf"),
	".orf": raw(".orf", "image/x-olympus-orf"),
	".rw2": raw(".rw2", "image/x-panasonic-rw2"),
	".pef": raw(".pef", "image/x-pentax-pef"),
	".srw": raw(".srw", "image/x-samsung-srw"),
	".x3f": raw(".x3f", "image/x-sigma-x3f"),
	".3fr": raw(".3fr", "image/x-hasselblad-3fr"),
	".iiq": raw(".iiq", "image/x-phaseone-iiq"),
	".erf": raw(".erf", "image/x-epson-erf"),
	".kdc": raw(".kdc", "image/x-kodak-kdc"),
	".mos": raw(".mos", "image/x-leaf-mos"),
	".rwl": raw(".rwl", "image/x-leica-rwl"),

	// Videos
	".mp4":  video(".mp4", "video/mp4"),
	".m4v":  video(".m4v", "video/x-m4v"),
	".mov":  video(".mov", "video/quicktime"),
	".mkv":  video(".mkv", "video/x-matroska"),
	".webm": video(".webm", "video/webm"),
	".avi":  video(".avi", "video/x-msvideo"),
	".wmv":  video(".wmv", "video/x-ms-wmv"),
	".flv":  video(".flv", "video/x-flv"),
	".mpeg": video(".mpeg", "video/mpeg"),
	".mpg":  video(".mpg", "video/mpeg"),
	".3gp":  video(".3gp", "video/3gpp"),
	".mts":  video(".mts", "video/mp2t"),
	".m2ts": video(".m2ts", "video/mp2t"),
	".ts":   video(".ts", "video/mp2t"),

	// Documents
	".pdf":  document(".pdf", "application/pdf"),
	".txt":  document(".txt", "text/plain"),
	".md":   document(".md", "text/markdown"),
	".rtf":  document(".rtf", "application/rtf"),
	".doc":  document(".doc", "application/msword"),
	".docx": document(".docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document"),
	".odt":  document(".odt", "application/vnd.oasis.opendocument.text"),
	".xls":  document(".xls", "application/vnd.ms-excel"),
	".xlsx": document(".xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"),
	".ppt":  document(".ppt", "application/vnd.ms-powerpoint"),
	".pptx": document(".pptx", "application/vnd.openxmlformats-officedocument.presentationml.presentation"),
	".epub": document(".epub", "application/epub+zip"),
}

// magicFormats maps a sniffed signature to the extension used when the
// file's own extension is missing or wrong.
var magicFormats = map[string]string{
	"jpeg":          ".jpg",
	"png":           ".png",
	"gif":           ".gif",
	"webp":          ".webp",
	"bmp":           ".bmp",
	"tiff":          ".tif",
	"heif":          ".heic",
	"avif":          ".avif",
	"mp4-container": ".mp4",
	"matroska":      ".mkv",
	"pdf":           ".pdf",
}

// LookupExtension returns the format registered for ext. The extension is
// matched case-insensitively and may omit the leading dot.
func LookupExtension(ext string) (Format, bool) {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	f, ok := formats[ext]
	return f, ok
}

// GetMimeType returns the MIME type for a given file extension, or
// "application/octet-stream" if the extension is not recognized.
func GetMimeType(ext string) string {
	if f, ok := LookupExtension(ext); ok {
		return f.MimeType
	}
	return "application/octet-stream"
}

// IsSidecar reports whether name is a metadata sidecar rather than media.
func IsSidecar(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".xmp")
}

// Classify decides the Format of the file at path from its extension and
// its leading bytes. RAW and video extensions are trusted as-is (most RAW
// containers sniff as TIFF); for other images the sniffed signature wins so
// a mislabelled PNG is decoded as PNG. Files with an unknown extension are
// accepted when their signature is recognized.
func Classify(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return Format{}, err
	}
	defer f.Close()

	header := make([]byte, 32)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Format{}, err
	}

	return classify(filepath.Ext(path), DetectMagic(header[:n]))
}

func classify(ext, magic string) (Format, error) {
	byExt, known := LookupExtension(ext)
	sniffedExt, sniffed := magicFormats[magic]
	bySniff, _ := LookupExtension(sniffedExt)

	switch {
	case known && (byExt.Raw || byExt.Kind == KindVideo || byExt.Kind == KindDocument):
		return byExt, nil
	case known && sniffed && bySniff.Kind == KindImage:
		// Keep the caller's spelling when it already names the sniffed type.
		if bySniff.MimeType == byExt.MimeType {
			return byExt, nil
		}
		return bySniff, nil
	case known:
		return byExt, nil
	case sniffed:
		return bySniff, nil
	}

	if ext == "" {
		return Format{}, fmt.Errorf("%w: no extension and unrecognized signature", ErrUnsupported)
	}
	return Format{}, fmt.Errorf("%w: %s", ErrUnsupported, strings.ToLower(ext))
}

// DetectMagic identifies common media signatures from a file header. It
// returns "unknown" when nothing matches.
func DetectMagic(header []byte) string {
	switch {
	case len(header) >= 3 && header[0] == 0xFF && header[1] == 0xD8 && header[2] == 0xFF:
		return "jpeg"

	case len(header) >= 8 && header[0] == 0x89 && header[1] == 0x50 && header[2] == 0x4E && header[3] == 0x47:
		return "png"

	case len(header) >= 4 && header[0] == 0x47 && header[1] == 0x49 && header[2] == 0x46 && header[3] == 0x38:
		return "gif"

	case len(header) >= 12 && string(header[0:4]) == "RIFF" && string(header[8:12]) == "WEBP":
		return "webp"

	case len(header) >= 2 && header[0] == 0x42 && header[1] == 0x4D:
		return "bmp"

	case len(header) >= 4 && ((header[0] == 0x49 && header[1] == 0x49 && header[2] == 0x2A && header[3] == 0x00) ||
		(header[0] == 0x4D && header[1] == 0x4D && header[2] == 0x00 && header[3] == 0x2A)):
		return "tiff"

	case len(header) >= 12 && string(header[4:8]) == "ftyp":
		switch string(header[8:12]) {
		case "heic", "heix", "hevc", "hevx", "mif1", "msf1":
			return "heif"
		case "avif", "avis":
			return "avif"
		}
		return "mp4-container"

	case len(header) >= 4 && header[0] == 0x1A && header[1] == 0x45 && header[2] == 0xDF && header[3] == 0xA3:
		return "matroska"

	case len(header) >= 4 && string(header[0:4]) == "%PDF":
		return "pdf"
	}

	return "unknown"
}
