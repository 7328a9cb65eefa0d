// Package media classifies duplicate files by extension and extracts the
// image details the API shows next to a duplicate group.
package media

import (
	"mime"
	"strings"
)

// FileType is a coarse classification of a file by extension.
type FileType string

const (
	FileTypeImage    FileType = "image"
	FileTypeVideo    FileType = "video"
	FileTypeAudio    FileType = "audio"
	FileTypeDocument FileType = "document"
	FileTypeArchive  FileType = "archive"
	FileTypeOther    FileType = "other"
)

var typesByExt = map[string]FileType{}

func init() {
	register(FileTypeImage, ".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp", ".tiff", ".tif", ".heic", ".heif", ".avif")
	register(FileTypeVideo, ".mp4", ".mov", ".avi", ".mkv", ".wmv", ".flv", ".webm", ".m4v")
	register(FileTypeAudio, ".mp3", ".flac", ".wav", ".ogg", ".m4a", ".aac")
	register(FileTypeDocument, ".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".txt", ".odt", ".ods", ".odp", ".csv")
	register(FileTypeArchive, ".zip", ".tar", ".gz", ".tgz", ".7z", ".rar", ".xz", ".bz2")
}

func register(t FileType, exts ...string) {
	for _, e := range exts {
		typesByExt[e] = t
	}
}

// Classify returns the FileType for a catalog extension such as ".jpg".
// Matching is case-insensitive; an empty or unknown extension is Other.
func Classify(ext string) FileType {
	if t, ok := typesByExt[strings.ToLower(ext)]; ok {
		return t
	}
	return FileTypeOther
}

// ContentType returns the MIME type registered for ext, or
// application/octet-stream.
func ContentType(ext string) string {
	if ct := mime.TypeByExtension(strings.ToLower(ext)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
