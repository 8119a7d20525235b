// Package stegapi is a client for the steganography service: hiding text and
// files in cover images, extracting them again, and analyzing covers.
package stegapi

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/liminalpurple/stegmeter/internal/capacity"
)

// MaxUploadSize is the largest file the service accepts (50 MiB).
const MaxUploadSize = 50 * 1024 * 1024

// MaxResponseSize bounds JSON responses. Output files are streamed instead.
const MaxResponseSize = MaxUploadSize

// KeyLength is the number of hex characters in an extraction key.
const KeyLength = 64

var (
	// ErrEmptyMessage is returned when hiding an empty message.
	ErrEmptyMessage = errors.New("message cannot be empty")
	// ErrInvalidKey is returned for keys that are not 64 hex characters.
	ErrInvalidKey = errors.New("key must be 64 hexadecimal characters")
	// ErrResponseTooLarge is returned when a JSON response exceeds MaxResponseSize.
	ErrResponseTooLarge = errors.New("response exceeds size limit")
	// ErrTooLarge is returned for uploads over MaxUploadSize.
	ErrTooLarge = errors.New("upload exceeds 50 MB limit")
)

// Upload is a named file sent as a multipart part.
// The service selects its image codec from the name's extension.
type Upload struct {
	Name string
	Data []byte
}

// Health is the service health report.
type Health struct {
	Status  string
	Version string
	Time    time.Time
}

// HideResult is returned after hiding a text message.
type HideResult struct {
	// Key is the 64-hex-character extraction key. It is shown once.
	Key           string
	OutputFileURL string
	Message       string
}

// FileDetails describes a file hidden in a cover.
type FileDetails struct {
	OriginalName string
	FileType     string
	FileSize     int64
}

// HideFileResult is returned after hiding a file.
type HideFileResult struct {
	OutputFileURL string
	Encryption    string
	File          FileDetails
	Message       string
}

// ExtractResult is the content recovered from a stego image.
type ExtractResult struct {
	IsFile      bool
	Message     string
	FileURL     string
	FileName    string
	FileType    string
	FileSize    int64
	ContentType string
}

// Metadata is the service's analysis of a cover image.
type Metadata struct {
	Filename     string
	FileSize     int64
	FileType     string
	MimeType     string
	Width        int
	Height       int
	HasEXIF      bool
	PrivacyRisks []string
	// Capacity is unknown (zero) when the response carried none.
	Capacity capacity.Estimate
}

// Client talks to one steganography service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a client for the service at baseURL. The /api prefix is
// added when baseURL does not already end with it.
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(base, "/api") {
		base += "/api"
	}

	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("component", "stegapi").Logger(),
	}
}

// BaseURL returns the API root including the /api prefix.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ValidateKey checks an extraction key.
func ValidateKey(key string) error {
	if len(key) != KeyLength {
		return fmt.Errorf("%w: got %d characters", ErrInvalidKey, len(key))
	}
	if _, err := hex.DecodeString(key); err != nil {
		return fmt.Errorf("%w: not hexadecimal", ErrInvalidKey)
	}
	return nil
}

func checkUpload(u Upload, what string) error {
	if len(u.Data) == 0 {
		return fmt.Errorf("no %s selected", what)
	}
	if len(u.Data) > MaxUploadSize {
		return fmt.Errorf("%w: %s %s is %d bytes", ErrTooLarge, what, u.Name, len(u.Data))
	}
	return nil
}

// Health reports whether the service is up.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	status, body, err := c.do(ctx, http.MethodGet, c.baseURL+"/health", nil, "")
	if err != nil {
		return nil, err
	}

	data, _, err := decodeEnvelope(status, body)
	if err != nil {
		return nil, err
	}

	return parseHealth(data), nil
}

// HideText hides message in cover and returns the extraction key.
func (c *Client) HideText(ctx context.Context, cover Upload, message string) (*HideResult, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}
	if err := checkUpload(cover, "cover image"); err != nil {
		return nil, err
	}

	data, msg, err := c.postForm(ctx, "/hide", map[string]Upload{"image": cover}, map[string]string{"Message": message})
	if err != nil {
		return nil, fmt.Errorf("failed to hide message: %w", err)
	}

	result := parseHide(data, msg)
	if result.Key == "" {
		return nil, fmt.Errorf("%w: hide response has no key", ErrMalformedResponse)
	}
	return result, nil
}

// HideFile hides payload in cover. An empty password lets the service pick the encryption.
func (c *Client) HideFile(ctx context.Context, cover, payload Upload, password string) (*HideFileResult, error) {
	if err := checkUpload(cover, "cover image"); err != nil {
		return nil, err
	}
	if err := checkUpload(payload, "file"); err != nil {
		return nil, err
	}

	var fields map[string]string
	if password != "" {
		fields = map[string]string{"password": password}
	}

	data, msg, err := c.postForm(ctx, "/hideFile", map[string]Upload{"image": cover, "file": payload}, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to hide file: %w", err)
	}

	return parseHideFile(data, msg), nil
}

// Extract recovers hidden content from a stego image.
func (c *Client) Extract(ctx context.Context, stego Upload, key string) (*ExtractResult, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if err := checkUpload(stego, "image"); err != nil {
		return nil, err
	}

	data, _, err := c.postForm(ctx, "/extract", map[string]Upload{"image": stego}, map[string]string{"Key": key})
	if err != nil {
		return nil, fmt.Errorf("failed to extract: %w", err)
	}

	return parseExtract(data), nil
}

// Metadata asks the service to analyze a cover image.
func (c *Client) Metadata(ctx context.Context, cover Upload) (*Metadata, error) {
	if err := checkUpload(cover, "cover image"); err != nil {
		return nil, err
	}

	data, _, err := c.postForm(ctx, "/metadata", map[string]Upload{"image": cover}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze metadata: %w", err)
	}

	return parseMetadata(data), nil
}

// Capacity returns the service's capacity estimate for cover.
func (c *Client) Capacity(ctx context.Context, cover Upload) (capacity.Estimate, error) {
	if err := checkUpload(cover, "cover image"); err != nil {
		return capacity.Estimate{}, err
	}

	contentType, payload, err := buildForm(map[string]Upload{"image": cover}, nil)
	if err != nil {
		return capacity.Estimate{}, err
	}

	status, body, err := c.do(ctx, http.MethodPost, c.baseURL+"/metadata", payload, contentType)
	if err != nil {
		return capacity.Estimate{}, err
	}
	if _, _, err := decodeEnvelope(status, body); err != nil {
		return capacity.Estimate{}, err
	}

	return ParseCapacity(body)
}

// Download fetches an output file into memory. ref may be an absolute URL,
// a server path such as /api/files/x.png, or a bare file name.
func (c *Client) Download(ctx context.Context, ref string) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := c.DownloadTo(ctx, ref, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DownloadTo streams an output file to w and returns the bytes written.
// Output files have no size limit.
func (c *Client) DownloadTo(ctx context.Context, ref string, w io.Writer) (int64, error) {
	resp, log, err := c.send(ctx, http.MethodGet, c.FileURL(ref), nil, "")
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, err := readLimited(resp.Body)
		if err != nil {
			return 0, fmt.Errorf("failed to download %s: %w", ref, err)
		}
		_, _, envErr := decodeEnvelope(resp.StatusCode, body)
		return 0, fmt.Errorf("failed to download %s: %w", ref, envErr)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		log.Warn().Err(err).Int64("bytes", n).Msg("Download interrupted")
		return n, fmt.Errorf("failed to download %s: %w", ref, err)
	}
	log.Debug().Int64("bytes", n).Msg("Download complete")
	return n, nil
}

// FileURL resolves an output file reference to an absolute URL.
func (c *Client) FileURL(ref string) string {
	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return ref
	case strings.HasPrefix(ref, "/"):
		return strings.TrimSuffix(c.baseURL, "/api") + ref
	default:
		return c.baseURL + "/files/" + ref
	}
}

func (c *Client) postForm(ctx context.Context, path string, files map[string]Upload, fields map[string]string) (data gjson.Result, message string, err error) {
	contentType, payload, err := buildForm(files, fields)
	if err != nil {
		return data, "", err
	}

	status, body, err := c.do(ctx, http.MethodPost, c.baseURL+path, payload, contentType)
	if err != nil {
		return data, "", err
	}

	return decodeEnvelope(status, body)
}

// do sends one request and reads the whole body, which must fit in
// MaxResponseSize.
func (c *Client) do(ctx context.Context, method, url string, body []byte, contentType string) (int, []byte, error) {
	resp, log, err := c.send(ctx, method, url, body, contentType)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := readLimited(resp.Body)
	if err != nil {
		log.Warn().Err(err).Int("status", resp.StatusCode).Msg("Failed to read response")
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}

	return resp.StatusCode, respBody, nil
}

// send issues a request. Every request carries an X-Request-ID that is
// logged with failures; the returned logger carries it too.
func (c *Client) send(ctx context.Context, method, url string, body []byte, contentType string) (*http.Response, zerolog.Logger, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	requestID := uuid.NewString()
	log := c.log.With().Str("request_id", requestID).Str("method", method).Str("url", url).Logger()

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, log, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("Request failed")
		return nil, log, fmt.Errorf("request %s failed: %w", requestID, err)
	}

	event := log.Debug()
	if resp.StatusCode >= 400 {
		event = log.Warn()
	}
	event.Int("status", resp.StatusCode).Dur("elapsed", time.Since(start)).Msg("Response received")

	return resp, log, nil
}

// readLimited reads r fully, failing rather than truncating past MaxResponseSize.
func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxResponseSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxResponseSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, MaxResponseSize)
	}
	return data, nil
}

// buildForm encodes files and fields as multipart/form-data.
func buildForm(files map[string]Upload, fields map[string]string) (string, []byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return "", nil, fmt.Errorf("failed to write field %s: %w", name, err)
		}
	}

	for name, u := range files {
		part, err := w.CreateFormFile(name, u.Name)
		if err != nil {
			return "", nil, fmt.Errorf("failed to create part %s: %w", name, err)
		}
		if _, err := part.Write(u.Data); err != nil {
			return "", nil, fmt.Errorf("failed to write part %s: %w", name, err)
		}
	}

	if err := w.Close(); err != nil {
		return "", nil, fmt.Errorf("failed to finish form: %w", err)
	}

	return w.FormDataContentType(), buf.Bytes(), nil
}
