package constants

import "strings"

// FileKind is the normalized family of an input file. It is resolved once at
// ingestion and decides which normalizer turns the file into a PDF.
type FileKind string

const (
	PDF            FileKind = "PDF"
	RasterImage    FileKind = "IMAGE"
	OfficeDocument FileKind = "OFFICE"
	Unsupported    FileKind = ""
)

// DefaultMaxUploadBytes is the per-file upload cap (200 MiB).
const DefaultMaxUploadBytes int64 = 200 << 20

// extKinds maps lowercased extensions (sans '.') to their family.
var extKinds = map[string]FileKind{
	"pdf": PDF,

	"jpg":  RasterImage,
	"jpeg": RasterImage,
	"png":  RasterImage,
	"tif":  RasterImage,
	"tiff": RasterImage,
	"bmp":  RasterImage,
	"webp": RasterImage,

	"txt":  OfficeDocument,
	"csv":  OfficeDocument,
	"doc":  OfficeDocument,
	"docx": OfficeDocument,
	"odt":  OfficeDocument,
	"rtf":  OfficeDocument,
	"xls":  OfficeDocument,
	"xlsx": OfficeDocument,
}

// AllowedExtensions holds the extensions accepted for conversion.
var AllowedExtensions = func() map[string]struct{} {
	m := make(map[string]struct{}, len(extKinds))
	for ext := range extKinds {
		m[ext] = struct{}{}
	}
	return m
}()

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// KindForExt resolves the family for an extension (with or without dot).
func KindForExt(ext string) FileKind {
	return extKinds[NormalizeExt(ext)]
}

// KindForMIME resolves the family from a sniffed MIME type. Text-ish types
// map to OfficeDocument since the office converter renders them.
func KindForMIME(mime string) FileKind {
	mime = strings.ToLower(mime)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	switch {
	case mime == "application/pdf":
		return PDF
	case strings.HasPrefix(mime, "image/"):
		switch mime {
		case "image/jpeg", "image/png", "image/tiff", "image/bmp", "image/x-ms-bmp", "image/webp":
			return RasterImage
		}
		return Unsupported
	case strings.HasPrefix(mime, "text/"),
		mime == "application/msword",
		mime == "application/rtf",
		mime == "application/vnd.ms-excel",
		strings.HasPrefix(mime, "application/vnd.openxmlformats-officedocument."),
		strings.HasPrefix(mime, "application/vnd.oasis.opendocument."):
		return OfficeDocument
	}
	return Unsupported
}

// IsPassthroughImage reports whether img2pdf can embed the extension
// without re-encoding.
func IsPassthroughImage(ext string) bool {
	switch NormalizeExt(ext) {
	case "jpg", "jpeg", "png", "tif", "tiff":
		return true
	}
	return false
}
