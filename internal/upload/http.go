package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"pixlift/internal/httpclient"
	"pixlift/internal/logging"
	"pixlift/internal/media"
)

const maxResponseBytes = 1 << 20 // a URL payload has no business being bigger

// HTTPUploader posts payloads as multipart/form-data to a single endpoint
// and expects a JSON body carrying the assigned URL back.
type HTTPUploader struct {
	endpoint string
	token    string
	client   *http.Client
	logger   logging.Logger
}

// HTTPOption configures an HTTPUploader.
type HTTPOption func(*HTTPUploader)

// WithAuthToken sends the token as a bearer credential on every request.
func WithAuthToken(token string) HTTPOption {
	return func(u *HTTPUploader) {
		u.token = token
	}
}

// WithClient swaps the underlying HTTP client.
func WithClient(client *http.Client) HTTPOption {
	return func(u *HTTPUploader) {
		if client != nil {
			u.client = client
		}
	}
}

// WithTimeout rebuilds the underlying client with the given total timeout.
func WithTimeout(timeout time.Duration) HTTPOption {
	return func(u *HTTPUploader) {
		u.client = httpclient.New(timeout, u.logger)
	}
}

// WithLogger attaches a logger for request diagnostics.
func WithLogger(logger logging.Logger) HTTPOption {
	return func(u *HTTPUploader) {
		u.logger = logging.OrNop(logger)
	}
}

// NewHTTP builds an uploader for the given endpoint.
func NewHTTP(endpoint string, opts ...HTTPOption) *HTTPUploader {
	u := &HTTPUploader{
		endpoint: endpoint,
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.client == nil {
		u.client = httpclient.New(0, u.logger)
	}
	return u
}

// Upload performs a single attempt. The multipart body carries the payload
// under the "file" field with its real content type, plus a "scope" field
// when a scope is set.
func (u *HTTPUploader) Upload(ctx context.Context, f *media.File, scope string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(f.Name)))
	header.Set("Content-Type", f.MIME)
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", &Error{File: f.Name, Message: "build multipart body", Err: err}
	}
	if _, err := part.Write(f.Data); err != nil {
		return "", &Error{File: f.Name, Message: "build multipart body", Err: err}
	}
	if scope != "" {
		if err := writer.WriteField("scope", scope); err != nil {
			return "", &Error{File: f.Name, Message: "build multipart body", Err: err}
		}
	}
	if err := writer.Close(); err != nil {
		return "", &Error{File: f.Name, Message: "build multipart body", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, &body)
	if err != nil {
		return "", &Error{File: f.Name, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if u.token != "" {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}

	u.logger.Debug("uploading %s (%d bytes) to %s", f.Name, f.Size(), u.endpoint)

	resp, err := u.client.Do(req)
	if err != nil {
		return "", &Error{File: f.Name, Err: err}
	}
	defer httpclient.DrainAndClose(resp.Body)

	raw, err := httpclient.ReadAllWithLimit(resp.Body, maxResponseBytes)
	if err != nil {
		return "", &Error{File: f.Name, StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &Error{
			File:       f.Name,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw, resp.StatusCode),
		}
	}

	var parsed struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &Error{File: f.Name, StatusCode: resp.StatusCode, Message: "malformed response body", Err: err}
	}
	if parsed.URL == "" {
		return "", &Error{File: f.Name, StatusCode: resp.StatusCode, Message: "response carried no url"}
	}

	u.logger.Info("uploaded %s -> %s", f.Name, parsed.URL)
	return parsed.URL, nil
}

// errorMessage extracts a server-provided reason from an error body, falling
// back to the HTTP status text.
func errorMessage(raw []byte, status int) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" && len(text) <= 200 {
		return text
	}
	return http.StatusText(status)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
