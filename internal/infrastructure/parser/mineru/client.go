package mineru

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/akulikov/kbdoc/internal/core/domain"
	"github.com/akulikov/kbdoc/internal/core/ports"
	"github.com/akulikov/kbdoc/internal/infrastructure/resilience"
)

// Client talks to a MinerU-compatible parse service. Submission is a
// three-step exchange: request an upload slot, PUT the raw bytes to the
// returned URL, then treat the returned batch id as the provider
// handle. Results come back as a zip holding full.md plus an images/
// directory; both are unpacked into object storage.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	storage    ports.ObjectStorage
	executor   *resilience.Executor
	limiter    *rate.Limiter
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// SubmitRate caps provider submissions per second; the provider
	// throttles aggressively above it.
	SubmitRate  float64
	SubmitBurst int
}

func New(cfg Config, storage ports.ObjectStorage, executor *resilience.Executor) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	submitRate := cfg.SubmitRate
	if submitRate <= 0 {
		submitRate = 2
	}
	burst := cfg.SubmitBurst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		storage:    storage,
		executor:   executor,
		limiter:    rate.NewLimiter(rate.Limit(submitRate), burst),
	}
}

type fileSpec struct {
	Name     string `json:"name"`
	IsOCR    bool   `json:"is_ocr"`
	DataID   string `json:"data_id"`
	Language string `json:"language"`
}

type submitRequest struct {
	EnableFormula bool       `json:"enable_formula"`
	EnableTable   bool       `json:"enable_table"`
	Language      string     `json:"language"`
	Files         []fileSpec `json:"files"`
}

type submitResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		BatchID  string   `json:"batch_id"`
		FileURLs []string `json:"file_urls"`
	} `json:"data"`
}

// Submit registers one file and uploads its content. The batch id is
// returned only after the upload PUT succeeds: an id whose content
// never arrived would poll forever.
func (c *Client) Submit(ctx context.Context, name string, content io.Reader, features domain.ParseFeatures) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("submit rate limit: %w", err)
	}

	language := features.Language
	if language == "" {
		language = "ch"
	}
	reqBody := submitRequest{
		EnableFormula: features.Formula,
		EnableTable:   features.Table,
		Language:      language,
		Files: []fileSpec{{
			Name:     path.Base(name),
			IsOCR:    features.OCR,
			DataID:   strings.TrimSuffix(path.Base(name), path.Ext(name)),
			Language: language,
		}},
	}

	var parsed submitResponse
	err := c.executor.Execute(ctx, "mineru.submit", func(ctx context.Context) error {
		return c.postJSON(ctx, c.baseURL+"/api/v4/file-urls/batch", reqBody, &parsed)
	}, classifyTransport)
	if err != nil {
		return "", err
	}
	if parsed.Code != 0 {
		return "", domain.WrapError(domain.ErrPermanent, "mineru submit",
			fmt.Errorf("provider code %d: %s", parsed.Code, parsed.Msg))
	}
	if parsed.Data.BatchID == "" || len(parsed.Data.FileURLs) == 0 {
		return "", domain.WrapError(domain.ErrPermanent, "mineru submit",
			fmt.Errorf("provider returned no batch id or upload url"))
	}

	raw, err := io.ReadAll(content)
	if err != nil {
		return "", fmt.Errorf("read content for upload: %w", err)
	}
	err = c.executor.Execute(ctx, "mineru.upload", func(ctx context.Context) error {
		return c.putContent(ctx, parsed.Data.FileURLs[0], raw)
	}, classifyTransport)
	if err != nil {
		return "", fmt.Errorf("upload content for batch %s: %w", parsed.Data.BatchID, err)
	}

	return parsed.Data.BatchID, nil
}

type pollResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		ExtractResult []struct {
			State      string `json:"state"`
			ErrMsg     string `json:"err_msg"`
			FullZipURL string `json:"full_zip_url"`
		} `json:"extract_result"`
	} `json:"data"`
}

// Poll asks for the batch's extraction state. Not-ready is a normal
// result, not an error; provider-reported extraction failure is
// ErrPermanent since re-polling the same batch cannot fix it.
func (c *Client) Poll(ctx context.Context, batchID string) (ports.PollResult, error) {
	var parsed pollResponse
	err := c.executor.Execute(ctx, "mineru.poll", func(ctx context.Context) error {
		return c.getJSON(ctx, c.baseURL+"/api/v4/extract-results/batch/"+batchID, &parsed)
	}, classifyTransport)
	if err != nil {
		return ports.PollResult{}, err
	}
	if parsed.Code != 0 {
		// An application-level rejection with HTTP 200 means the
		// request itself is bad (unknown batch, auth, params).
		// Transient provider trouble arrives as 429/5xx transport
		// status instead, so re-polling the same batch cannot fix it.
		return ports.PollResult{Code: parsed.Code, Message: parsed.Msg},
			domain.WrapError(domain.ErrPermanent, "mineru poll",
				fmt.Errorf("provider code %d: %s", parsed.Code, parsed.Msg))
	}
	if len(parsed.Data.ExtractResult) == 0 {
		return ports.PollResult{Message: "no extract result yet"}, nil
	}

	item := parsed.Data.ExtractResult[0]
	switch item.State {
	case "done":
		if item.FullZipURL == "" {
			return ports.PollResult{Message: item.State},
				domain.WrapError(domain.ErrPermanent, "mineru poll",
					fmt.Errorf("batch %s done without result url", batchID))
		}
		return ports.PollResult{Ready: true, ResultURL: item.FullZipURL, Message: item.State}, nil
	case "failed":
		return ports.PollResult{Message: item.ErrMsg},
			domain.WrapError(domain.ErrPermanent, "mineru poll",
				fmt.Errorf("batch %s failed: %s", batchID, item.ErrMsg))
	default:
		return ports.PollResult{Message: item.State}, nil
	}
}

// Fetch downloads the result zip and lands full.md plus every image
// under parsed/<batchID>/ in object storage. Returns the storage keys.
func (c *Client) Fetch(ctx context.Context, batchID, resultURL string) (string, string, error) {
	var raw []byte
	err := c.executor.Execute(ctx, "mineru.fetch", func(ctx context.Context) error {
		var err error
		raw, err = c.download(ctx, resultURL)
		return err
	}, classifyTransport)
	if err != nil {
		return "", "", err
	}

	reader, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", "", domain.WrapError(domain.ErrPermanent, "mineru fetch",
			fmt.Errorf("corrupt result zip for batch %s: %w", batchID, err))
	}

	markdownKey := path.Join("parsed", batchID, "full.md")
	assetsKey := path.Join("parsed", batchID, "images")

	var foundMarkdown bool
	for _, file := range reader.File {
		base := path.Base(file.Name)
		switch {
		case base == "full.md":
			if err := c.extractTo(ctx, file, markdownKey); err != nil {
				return "", "", err
			}
			foundMarkdown = true
		case strings.Contains(file.Name, "images/") && isImage(base):
			if err := c.extractTo(ctx, file, path.Join(assetsKey, base)); err != nil {
				return "", "", err
			}
		}
	}
	if !foundMarkdown {
		return "", "", domain.WrapError(domain.ErrPermanent, "mineru fetch",
			fmt.Errorf("batch %s result zip has no full.md", batchID))
	}
	return markdownKey, assetsKey, nil
}

func (c *Client) extractTo(ctx context.Context, file *zip.File, key string) error {
	rc, err := file.Open()
	if err != nil {
		return fmt.Errorf("open %s in result zip: %w", file.Name, err)
	}
	defer rc.Close()

	if err := c.storage.Save(ctx, key, rc); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, url string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return c.do(req, out)
}

func (c *Client) putContent(ctx context.Context, url string, raw []byte) error {
	// Upload URLs are pre-signed; no auth header.
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return statusError(resp.StatusCode, "upload")
	}
	return nil
}

func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, "download")
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return statusError(resp.StatusCode, req.URL.Path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusError(code int, op string) error {
	err := fmt.Errorf("%s status %d", op, code)
	switch {
	case code == http.StatusTooManyRequests || code >= 500:
		return domain.WrapError(domain.ErrTemporary, "mineru", err)
	case code >= 400:
		return domain.WrapError(domain.ErrPermanent, "mineru", err)
	default:
		return err
	}
}

func isImage(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif":
		return true
	default:
		return false
	}
}
