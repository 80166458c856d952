package transcription

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
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kallabhanu88-ctrl/speech-to-text-app/internal/auth"
)

// Client provides HTTP client functionality for the speech-to-text backend
type Client struct {
	config       Config
	baseURL      *url.URL
	httpClient   *http.Client // Bounded calls: register, login, history, downloads
	uploadClient *http.Client // Transcription uploads, unbounded unless configured

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	bytesUploaded   uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains backend client configuration
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	UploadTimeout  time.Duration // zero waits for the backend indefinitely
	UserAgent      string
}

// Upload is one finalized recording to transcribe
type Upload struct {
	Data        []byte
	Filename    string
	ContentType string
}

// NewClient creates a new backend HTTP client
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}

	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", config.BaseURL)
	}

	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}

	if config.UploadTimeout < 0 {
		config.UploadTimeout = 0
	}

	if config.UserAgent == "" {
		config.UserAgent = "stt-client/1.0"
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		config:       config,
		baseURL:      base,
		httpClient:   &http.Client{Timeout: config.RequestTimeout, Transport: transport},
		uploadClient: &http.Client{Timeout: config.UploadTimeout, Transport: transport},
	}, nil
}

// BaseURL returns the backend base URL
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Ping calls GET / and returns the backend's status message
func (c *Client) Ping(ctx context.Context) (string, error) {
	var resp errorResponse
	if err := c.doJSON(ctx, c.httpClient, "ping", http.MethodGet, "/", auth.Session{}, nil, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// Register creates a backend account. A backend-provided error message is
// available on the returned *ServerError.
func (c *Client) Register(ctx context.Context, username, password string) error {
	body := credentialsRequest{Username: username, Password: password}
	err := c.doJSON(ctx, c.httpClient, "register", http.MethodPost, "/register", auth.Session{}, body, nil)
	return withDefaultMessage(err, "Registration failed")
}

// Login exchanges credentials for a bearer token
func (c *Client) Login(ctx context.Context, username, password string) (auth.Session, error) {
	body := credentialsRequest{Username: username, Password: password}

	var resp loginResponse
	if err := c.doJSON(ctx, c.httpClient, "login", http.MethodPost, "/login", auth.Session{}, body, &resp); err != nil {
		return auth.Session{}, withDefaultMessage(err, "Login failed")
	}

	if resp.Token == "" {
		return auth.Session{}, fmt.Errorf("login: %w: missing token", ErrInvalidResponse)
	}

	if resp.Username == "" {
		resp.Username = username
	}

	return auth.Session{Token: resp.Token, Username: resp.Username}, nil
}

// Transcribe uploads a recording as multipart field "file" and returns the
// backend's transcript. It never retries.
func (c *Client) Transcribe(ctx context.Context, sess auth.Session, upload Upload) (*TranscribeResult, error) {
	if !sess.Authenticated() {
		return nil, ErrUnauthenticated
	}

	body, contentType, err := createMultipartBody(upload)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/transcribe", sess, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	respBody, err := c.do(c.uploadClient, "transcribe", req)
	if err != nil {
		return nil, err
	}

	c.addBytesUploaded(len(upload.Data))

	var parsed transcribeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("transcribe: %w: %v", ErrInvalidResponse, err)
	}

	return parsed.result(), nil
}

// History returns the user's transcripts in the order the backend sent them
func (c *Client) History(ctx context.Context, sess auth.Session) ([]HistoryEntry, error) {
	if !sess.Authenticated() {
		return nil, ErrUnauthenticated
	}

	var entries []HistoryEntry
	if err := c.doJSON(ctx, c.httpClient, "history", http.MethodGet, "/history", sess, nil, &entries); err != nil {
		return nil, err
	}

	for i, entry := range entries {
		if err := entry.Validate(); err != nil {
			return nil, fmt.Errorf("history: %w: entry %d: %v", ErrInvalidResponse, i, err)
		}
	}

	if entries == nil {
		entries = []HistoryEntry{}
	}

	return entries, nil
}

// Download fetches a transcript document. id is a history entry id or, for
// docx, LatestDocument.
func (c *Client) Download(ctx context.Context, sess auth.Session, kind DocumentKind, id string) ([]byte, error) {
	if !sess.Authenticated() {
		return nil, ErrUnauthenticated
	}

	var path string
	switch kind {
	case DocumentDocx:
		path = "/download_docx/" + url.PathEscape(id)
	case DocumentText:
		if id == LatestDocument {
			return nil, fmt.Errorf("txt downloads need an explicit transcript id")
		}
		path = "/download_txt/" + url.PathEscape(id)
	default:
		return nil, fmt.Errorf("unsupported document kind: %s", kind)
	}

	req, err := c.newRequest(ctx, http.MethodGet, path, sess, nil)
	if err != nil {
		return nil, err
	}

	return c.do(c.httpClient, "download", req)
}

// doJSON performs a request with an optional JSON body and decodes a JSON response into out
func (c *Client) doJSON(ctx context.Context, hc *http.Client, op, method, path string, sess auth.Session, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, sess, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	respBody, err := c.do(hc, op, req)
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrInvalidResponse, err)
	}

	return nil
}

// newRequest builds a request against the base URL, attaching the bearer
// credential when the session has one
func (c *Client) newRequest(ctx context.Context, method, path string, sess auth.Session, body io.Reader) (*http.Request, error) {
	target := c.baseURL.String() + path

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)
	if sess.Authenticated() {
		req.Header.Set("Authorization", sess.BearerHeader())
	}

	return req, nil
}

// do performs a single HTTP request and returns the body of a 2xx response
func (c *Client) do(hc *http.Client, op string, req *http.Request) ([]byte, error) {
	startTime := time.Now()
	c.incrementTotalRequests()

	resp, err := hc.Do(req)
	if err != nil {
		c.incrementFailedRequests()
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.incrementFailedRequests()
		return nil, &NetworkError{Op: op, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.incrementFailedRequests()
		serverErr := &ServerError{StatusCode: resp.StatusCode, Body: string(respBody)}
		var decoded errorResponse
		if json.Unmarshal(respBody, &decoded) == nil {
			serverErr.Message = decoded.Error
		}
		return nil, serverErr
	}

	c.incrementSuccessRequests()
	c.updateAvgResponseTime(time.Since(startTime))

	return respBody, nil
}

// createMultipartBody creates a multipart/form-data body with the audio in field "file"
func createMultipartBody(upload Upload) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	filename := upload.Filename
	if filename == "" {
		filename = "recording.webm"
	}
	contentType := upload.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(upload.Data); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// withDefaultMessage fills in a user-facing message for server errors that
// did not carry one
func withDefaultMessage(err error, message string) error {
	var se *ServerError
	if errors.As(err, &se) && se.Message == "" {
		se.Message = message
	}
	return err
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) addBytesUploaded(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bytesUploaded += uint64(n)
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		AvgResponseTime: c.avgResponseTime,
		BytesUploaded:   c.bytesUploaded,
	}
}

// Close releases idle connections held by the client
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	c.uploadClient.CloseIdleConnections()
	return nil
}
