// Package intake gathers the text and files of one dashboard submission into
// a single ordered payload.
package intake

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Source identifies the capture path a file arrived through.
type Source string

const (
	SourceBrowser Source = "browser"
	SourceDevice  Source = "device"
)

// Capture identifies the device capability that produced a file.
type Capture string

const (
	CapturePhoto    Capture = "photo"
	CaptureGallery  Capture = "gallery"
	CaptureDocument Capture = "document"
)

var (
	ErrEmptyCapture   = errors.New("captured file is empty")
	ErrInvalidCapture = errors.New("captured file is not valid base64")
)

// UploadedFile is never mutated once created.
type UploadedFile struct {
	Name      string
	MimeType  string
	SizeBytes int64
	Source    Source
	Capture   Capture
	Bytes     []byte
}

// DeviceRecord is what the mobile capture plugins hand over: a base64 blob
// tagged with its original name and MIME type.
type DeviceRecord struct {
	Name     string  `json:"name"`
	MimeType string  `json:"mimeType"`
	Data     string  `json:"data"`
	Capture  Capture `json:"capture,omitempty"`
}

// Decode converts a device record into the same representation used for
// browser files.
func (r DeviceRecord) Decode() (UploadedFile, error) {
	data := strings.TrimSpace(r.Data)
	if data == "" {
		return UploadedFile{}, fmt.Errorf("%s: %w", r.Name, ErrEmptyCapture)
	}
	if idx := strings.Index(data, ";base64,"); idx >= 0 {
		data = data[idx+len(";base64,"):]
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return UploadedFile{}, fmt.Errorf("%s: %w", r.Name, ErrInvalidCapture)
	}
	if len(raw) == 0 {
		return UploadedFile{}, fmt.Errorf("%s: %w", r.Name, ErrEmptyCapture)
	}
	capture := r.Capture
	if capture == "" {
		capture = CaptureDocument
	}
	return UploadedFile{
		Name:      r.Name,
		MimeType:  r.MimeType,
		SizeBytes: int64(len(raw)),
		Source:    SourceDevice,
		Capture:   capture,
		Bytes:     raw,
	}, nil
}

func newBrowserFile(name, mimeType string, data []byte) UploadedFile {
	return UploadedFile{
		Name:      name,
		MimeType:  mimeType,
		SizeBytes: int64(len(data)),
		Source:    SourceBrowser,
		Bytes:     data,
	}
}
