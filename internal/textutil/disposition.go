package textutil

import (
	"net/url"
	"strings"
)

const untitledFileName = "untitled.mp3"

// ContentDisposition builds an inline Content-Disposition header naming the
// file "<title>.mp3". Non-ASCII titles get an ASCII fallback plus an RFC 5987
// filename* parameter. An empty title yields "untitled.mp3".
func ContentDisposition(title string) string {
	name := SanitizeFileName(title)
	if name == "" {
		return `inline; filename="` + untitledFileName + `"`
	}
	fileName := name + ".mp3"
	if IsASCII(fileName) {
		return `inline; filename="` + fileName + `"`
	}
	fallback := strings.TrimSpace(FoldASCII(name))
	if fallback == "" {
		fallback = strings.TrimSuffix(untitledFileName, ".mp3")
	}
	return `inline; filename="` + fallback + `.mp3"; filename*=UTF-8''` + url.PathEscape(fileName)
}
