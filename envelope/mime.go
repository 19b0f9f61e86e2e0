package envelope

import (
	"net/http"
	"path"
	"strings"
)

// DefaultMimeType is used when neither the extension nor the content identify the type.
const DefaultMimeType = "application/octet-stream"

// DetectMimeType guesses the media type of a file from its extension,
// falling back to content sniffing on data.
func DetectMimeType(filename string, data []byte) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".txt":
		return "text/plain"
	case ".html", ".htm":
		return "text/html"
	case ".css":
		return "text/css"
	case ".js":
		return "application/javascript"
	case ".json":
		return "application/json"
	case ".xml":
		return "application/xml"
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".svg":
		return "image/svg+xml"
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".zip":
		return "application/zip"
	case ".gz":
		return "application/gzip"
	case ".tar":
		return "application/x-tar"
	case ".csv":
		return "text/csv"
	case ".md":
		return "text/markdown"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	}

	if len(data) == 0 {
		return DefaultMimeType
	}
	return http.DetectContentType(data)
}
