package intake

import (
	"fmt"
	"io"
	"mime/multipart"
)

// FileSource is one capture path. The aggregator depends only on this
// interface, never on which concrete source produced a file.
type FileSource interface {
	Origin() Source
	Files() []UploadedFile
	Rejected() []Rejection
}

// BrowserSource collects files from the standard multi-file picker.
type BrowserSource struct {
	files    []UploadedFile
	rejected []Rejection
}

func NewBrowserSource() *BrowserSource {
	return &BrowserSource{}
}

func (s *BrowserSource) Origin() Source { return SourceBrowser }

func (s *BrowserSource) Files() []UploadedFile { return s.files }

func (s *BrowserSource) Rejected() []Rejection { return s.rejected }

// Add screens the file and keeps it when it passes.
func (s *BrowserSource) Add(name, mimeType string, data []byte) {
	file := newBrowserFile(name, mimeType, data)
	if rejection := Screen(file); rejection != nil {
		s.rejected = append(s.rejected, *rejection)
		return
	}
	s.files = append(s.files, file)
}

// AddFile screens an already built browser file, for example one that was
// staged earlier in the session.
func (s *BrowserSource) AddFile(file UploadedFile) {
	file.Source = SourceBrowser
	if rejection := Screen(file); rejection != nil {
		s.rejected = append(s.rejected, *rejection)
		return
	}
	s.files = append(s.files, file)
}

// AddMultipart reads one multipart file part. Oversized parts are rejected
// without being read past the limit.
func (s *BrowserSource) AddMultipart(header *multipart.FileHeader) error {
	if header.Size > MaxBrowserFileBytes {
		s.rejected = append(s.rejected, Rejection{Name: header.Filename, Reason: "file is larger than 10MB"})
		return nil
	}
	f, err := header.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", header.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, MaxBrowserFileBytes+1))
	if err != nil {
		return fmt.Errorf("read %s: %w", header.Filename, err)
	}
	s.Add(header.Filename, header.Header.Get("Content-Type"), data)
	return nil
}

// DeviceSource collects files from the camera, gallery and document picker.
type DeviceSource struct {
	files    []UploadedFile
	rejected []Rejection
}

func NewDeviceSource() *DeviceSource {
	return &DeviceSource{}
}

func (s *DeviceSource) Origin() Source { return SourceDevice }

func (s *DeviceSource) Files() []UploadedFile { return s.files }

func (s *DeviceSource) Rejected() []Rejection { return s.rejected }

// Add decodes a captured record. A record that cannot be decoded is a
// capability error and is returned to the caller; a decoded file that fails
// screening is dropped and reported through Rejected.
func (s *DeviceSource) Add(record DeviceRecord) error {
	file, err := record.Decode()
	if err != nil {
		return err
	}
	if rejection := Screen(file); rejection != nil {
		s.rejected = append(s.rejected, *rejection)
		return nil
	}
	s.files = append(s.files, file)
	return nil
}

// AddFile screens an already decoded device file.
func (s *DeviceSource) AddFile(file UploadedFile) {
	file.Source = SourceDevice
	if file.Capture == "" {
		file.Capture = CaptureDocument
	}
	if rejection := Screen(file); rejection != nil {
		s.rejected = append(s.rejected, *rejection)
		return
	}
	s.files = append(s.files, file)
}

// AddMultipart reads a device capture sent as a raw multipart part rather
// than a base64 record.
func (s *DeviceSource) AddMultipart(header *multipart.FileHeader, capture Capture) error {
	if header.Size > MaxDeviceFileBytes {
		s.rejected = append(s.rejected, Rejection{Name: header.Filename, Reason: "file is larger than 5MB"})
		return nil
	}
	f, err := header.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", header.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, MaxDeviceFileBytes+1))
	if err != nil {
		return fmt.Errorf("read %s: %w", header.Filename, err)
	}
	if len(data) == 0 {
		return fmt.Errorf("%s: %w", header.Filename, ErrEmptyCapture)
	}
	if capture == "" {
		capture = CaptureDocument
	}
	file := UploadedFile{
		Name:      header.Filename,
		MimeType:  header.Header.Get("Content-Type"),
		SizeBytes: int64(len(data)),
		Source:    SourceDevice,
		Capture:   capture,
		Bytes:     data,
	}
	if rejection := Screen(file); rejection != nil {
		s.rejected = append(s.rejected, *rejection)
		return nil
	}
	s.files = append(s.files, file)
	return nil
}
