package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const maxResponseBytes = 8 << 20

var (
	// ErrTransport matches every failure of the analysis call.
	ErrTransport = errors.New("analysis transport failure")
	// ErrUnreachable is a failure before any response arrived.
	ErrUnreachable = fmt.Errorf("%w: service unreachable", ErrTransport)
)

// ServiceError is a response from a reachable service that reported failure.
type ServiceError struct {
	Status  int
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("analysis service returned %d: %s", e.Status, e.Message)
}

func (e *ServiceError) Is(target error) bool {
	return target == ErrTransport
}

type File struct {
	Name     string
	MimeType string
	Data     []byte
}

type Request struct {
	Text  string
	Files []File
	Model Model
	// BearerToken is the caller's access token, forwarded so the service can
	// check the caller's profile.
	BearerToken string
}

// Client invokes the remote analysis endpoint. It never retries.
type Client struct {
	url        string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

func NewClient(url, apiKey string, timeout time.Duration) *Client {
	return &Client{
		url:        url,
		apiKey:     apiKey,
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

// Analyze returns the raw response body on success.
func (c *Client) Analyze(ctx context.Context, req Request) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, contentType, err := encodeRequest(req)
	if err != nil {
		return nil, fmt.Errorf("encode analysis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return nil, fmt.Errorf("build analysis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	if req.BearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.BearerToken)
	}
	if c.apiKey != "" {
		httpReq.Header.Set("apikey", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnreachable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ServiceError{Status: resp.StatusCode, Message: errorMessage(raw, resp.Status)}
	}
	return raw, nil
}

// encodeRequest sends JSON for text-only submissions and multipart whenever
// files are attached.
func encodeRequest(req Request) (io.Reader, string, error) {
	model := req.Model
	if model == "" {
		model = ModelFlash
	}

	if len(req.Files) == 0 {
		payload, err := json.Marshal(map[string]string{"text": req.Text, "model": string(model)})
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(payload), "application/json", nil
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, file := range req.Files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="%s"`, escapeQuotes(file.Name)))
		mimeType := file.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		header.Set("Content-Type", mimeType)
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, "", err
		}
	}
	if err := writer.WriteField("model", string(model)); err != nil {
		return nil, "", err
	}
	if strings.TrimSpace(req.Text) != "" {
		if err := writer.WriteField("text", req.Text); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}

func errorMessage(raw []byte, fallback string) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && strings.TrimSpace(body.Error) != "" {
		return body.Error
	}
	return fallback
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
