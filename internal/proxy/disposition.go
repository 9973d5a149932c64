package proxy

import (
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// Content types rendered inline by browsers; responses carrying one keep
// their headers untouched.
var inlineContentTypes = map[string]bool{
	"text/html":              true,
	"text/css":               true,
	"text/plain":             true,
	"text/javascript":        true,
	"application/javascript": true,
	"application/json":       true,
	"application/xml":        true,
	"text/xml":               true,
	"image/svg+xml":          true,
}

var extensionMIMETypes = map[string]string{
	"exe":  "application/octet-stream",
	"msi":  "application/octet-stream",
	"dmg":  "application/octet-stream",
	"zip":  "application/zip",
	"rar":  "application/x-rar-compressed",
	"7z":   "application/x-7z-compressed",
	"pdf":  "application/pdf",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"xls":  "application/vnd.ms-excel",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"ppt":  "application/vnd.ms-powerpoint",
	"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"txt":  "text/plain",
	"json": "application/json",
	"xml":  "application/xml",
	"csv":  "text/csv",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"svg":  "image/svg+xml",
	"mp4":  "video/mp4",
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
}

// rewriteDownloadHeaders makes file-looking upstream responses download
// cleanly: when the upstream set no content-disposition and the response is
// not an inline-rendered type, an attachment disposition is derived from
// the target URL's filename, and a generic or missing content-type is
// replaced using the extension table.
func rewriteDownloadHeaders(h http.Header, targetURL string) {
	if h.Get("Content-Disposition") != "" {
		return
	}
	contentType := h.Get("Content-Type")
	if isInlineContentType(contentType) {
		return
	}

	u, err := url.Parse(targetURL)
	if err != nil {
		return
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." || !strings.Contains(name, ".") {
		return
	}
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}

	h.Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q; filename*=UTF-8''%s", name, url.PathEscape(name)))

	if contentType == "" || mediaType(contentType) == "application/octet-stream" {
		ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
		if mt, ok := extensionMIMETypes[ext]; ok {
			h.Set("Content-Type", mt)
		}
	}
}

func isInlineContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	return inlineContentTypes[mediaType(contentType)]
}

// mediaType strips parameters like charset from a Content-Type value.
func mediaType(contentType string) string {
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
