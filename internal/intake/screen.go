package intake

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	MaxBrowserFileBytes = 10 * 1024 * 1024
	MaxDeviceFileBytes  = 5 * 1024 * 1024
)

var allowedExtensions = map[string]struct{}{
	".txt":  {},
	".pdf":  {},
	".doc":  {},
	".docx": {},
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
}

var allowedMimeTypes = map[string]struct{}{
	"text/plain":         {},
	"application/pdf":    {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"image/jpeg": {},
	"image/png":  {},
	"image/gif":  {},
}

var dangerousMimeTypes = map[string]struct{}{
	"application/x-executable":    {},
	"application/x-msdownload":    {},
	"application/x-msi":           {},
	"application/x-msdos-program": {},
}

var suspiciousExtensions = []string{".exe", ".bat", ".cmd", ".com", ".scr", ".pif", ".vbs", ".js"}

// Rejection records a file dropped by Screen so it can be reported.
type Rejection struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Screen applies the upload security check. A nil return means the file may
// enter the aggregator.
func Screen(file UploadedFile) *Rejection {
	name := strings.ToLower(strings.TrimSpace(file.Name))
	if name == "" {
		return &Rejection{Name: file.Name, Reason: "file name is required"}
	}
	for _, ext := range suspiciousExtensions {
		if strings.HasSuffix(name, ext) {
			return &Rejection{Name: file.Name, Reason: "file type is blocked for security reasons"}
		}
	}
	mimeType := strings.ToLower(strings.TrimSpace(file.MimeType))
	if _, ok := dangerousMimeTypes[mimeType]; ok {
		return &Rejection{Name: file.Name, Reason: "file type is blocked for security reasons"}
	}
	if _, ok := allowedExtensions[filepath.Ext(name)]; !ok {
		return &Rejection{Name: file.Name, Reason: "unsupported file extension"}
	}
	if _, ok := allowedMimeTypes[mimeType]; !ok {
		return &Rejection{Name: file.Name, Reason: "unsupported file type"}
	}
	limit := int64(MaxBrowserFileBytes)
	if file.Source == SourceDevice {
		limit = MaxDeviceFileBytes
	}
	if file.SizeBytes > limit {
		return &Rejection{Name: file.Name, Reason: fmt.Sprintf("file is larger than %dMB", limit/(1024*1024))}
	}
	if file.SizeBytes == 0 {
		return &Rejection{Name: file.Name, Reason: "file is empty"}
	}
	return nil
}
