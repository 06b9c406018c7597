// Package ingest turns local files and web pages into knowledge base documents.
package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/fwcache/internal/domain"
	domrag "github.com/kailas-cloud/fwcache/internal/domain/rag"
)

const (
	// DefaultMaxSize caps file and response bodies.
	DefaultMaxSize int64 = 10 << 20
	// DefaultTimeout bounds a single URL fetch.
	DefaultTimeout = 30 * time.Second
	// DefaultConcurrency is the number of files IngestFiles reads at once.
	DefaultConcurrency = 4

	userAgent = "Mozilla/5.0 (compatible; fwcache-ingest/1.0)"
)

// Extensions accepted by IngestFile.
var supportedExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".rst": true,
	".html": true, ".htm": true,
	".json": true, ".yaml": true, ".yml": true,
	".csv": true,
}

// Binary office formats have no reader here; they fail loudly instead of being
// ingested as garbage.
var binaryExtensions = map[string]bool{".pdf": true, ".docx": true, ".doc": true}

// Result is one ingested source ready for rag.Store.AddDocument.
type Result struct {
	Source     string
	SourceType domrag.SourceType
	Title      string
	Content    string
	Metadata   map[string]any
}

// Ingester reads files and URLs.
type Ingester struct {
	maxSize     int64
	client      *http.Client
	concurrency int
	logger      *zap.Logger
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithMaxSize overrides the 10 MiB body limit.
func WithMaxSize(n int64) Option {
	return func(i *Ingester) {
		if n > 0 {
			i.maxSize = n
		}
	}
}

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(i *Ingester) {
		if c != nil {
			i.client = c
		}
	}
}

// WithConcurrency sets how many files IngestFiles reads in parallel.
func WithConcurrency(n int) Option {
	return func(i *Ingester) {
		if n > 0 {
			i.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(i *Ingester) {
		if l != nil {
			i.logger = l
		}
	}
}

// New creates an Ingester.
func New(opts ...Option) *Ingester {
	i := &Ingester{
		maxSize:     DefaultMaxSize,
		client:      &http.Client{Timeout: DefaultTimeout},
		concurrency: DefaultConcurrency,
		logger:      zap.NewNop(),
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// IngestFile reads one local file. An empty title defaults to the file name
// without its extension.
func (i *Ingester) IngestFile(filePath, title string) (Result, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return Result{}, fmt.Errorf("ingest file %s: %w", filePath, err)
	}
	if info.IsDir() {
		return Result{}, fmt.Errorf("ingest file %s: path is a directory", filePath)
	}
	if info.Size() > i.maxSize {
		return Result{}, fmt.Errorf("ingest file %s: %d bytes exceeds %d: %w",
			filePath, info.Size(), i.maxSize, domain.ErrContentTooLarge)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	if binaryExtensions[ext] {
		return Result{}, fmt.Errorf("ingest file %s: %s documents need conversion to text first: %w",
			filePath, ext, domain.ErrUnsupportedFormat)
	}
	if !supportedExtensions[ext] {
		return Result{}, fmt.Errorf("ingest file %s: extension %q: %w", filePath, ext, domain.ErrUnsupportedFormat)
	}

	data, err := os.ReadFile(filepath.Clean(filePath))
	if err != nil {
		return Result{}, fmt.Errorf("ingest file %s: %w", filePath, err)
	}
	content, err := decodeFile(data, ext)
	if err != nil {
		return Result{}, fmt.Errorf("ingest file %s: %w", filePath, err)
	}

	name := filepath.Base(filePath)
	if title == "" {
		title = strings.TrimSuffix(name, filepath.Ext(name))
	}
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		mimeType = "unknown"
	}

	i.logger.Info("file ingested", zap.String("file", name), zap.Int64("bytes", info.Size()))

	return Result{
		Source:     filePath,
		SourceType: domrag.SourceFile,
		Title:      title,
		Content:    content,
		Metadata: map[string]any{
			"file_path":      filePath,
			"file_name":      name,
			"file_size":      info.Size(),
			"file_extension": ext,
			"mime_type":      mimeType,
		},
	}, nil
}

// IngestURL fetches a page. An empty title defaults to the last path segment,
// then the host.
func (i *Ingester) IngestURL(ctx context.Context, rawURL, title string) (Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Result{}, fmt.Errorf("ingest url %q: not an http(s) url", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return Result{}, fmt.Errorf("ingest url %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := i.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("ingest url %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("ingest url %s: status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, i.maxSize+1))
	if err != nil {
		return Result{}, fmt.Errorf("ingest url %s: read body: %w", rawURL, err)
	}
	if int64(len(body)) > i.maxSize {
		return Result{}, fmt.Errorf("ingest url %s: body exceeds %d bytes: %w", rawURL, i.maxSize, domain.ErrContentTooLarge)
	}

	contentType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	content, err := decodeResponse(body, contentType)
	if err != nil {
		return Result{}, fmt.Errorf("ingest url %s: %w", rawURL, err)
	}

	if title == "" {
		title = urlTitle(u)
	}

	i.logger.Info("url ingested", zap.String("url", rawURL), zap.Int("bytes", len(body)))

	return Result{
		Source:     rawURL,
		SourceType: domrag.SourceURL,
		Title:      title,
		Content:    content,
		Metadata: map[string]any{
			"url":            rawURL,
			"domain":         u.Host,
			"path":           u.Path,
			"content_type":   contentType,
			"content_length": len(body),
			"status_code":    resp.StatusCode,
		},
	}, nil
}

func urlTitle(u *url.URL) string {
	if seg := path.Base(u.Path); seg != "" && seg != "/" && seg != "." {
		return seg
	}
	if u.Host != "" {
		return u.Host
	}
	return "Document from " + u.String()
}

func decodeFile(data []byte, ext string) (string, error) {
	switch ext {
	case ".json":
		return indentJSON(data)
	case ".yaml", ".yml":
		return reformatYAML(data)
	case ".csv":
		return flattenCSV(data)
	default:
		// Local HTML is kept with its markup; only fetched pages are stripped.
		return toText(data), nil
	}
}

func decodeResponse(body []byte, contentType string) (string, error) {
	switch {
	case contentType == "text/html" || contentType == "application/xhtml+xml":
		return htmlText(body)
	case contentType == "application/json" || strings.HasSuffix(contentType, "+json"):
		if out, err := indentJSON(body); err == nil {
			return out, nil
		}
		return toText(body), nil
	case strings.HasPrefix(contentType, "text/"):
		return toText(body), nil
	case utf8.Valid(body):
		return string(body), nil
	default:
		return "", fmt.Errorf("content type %q: %w", contentType, domain.ErrUnsupportedFormat)
	}
}

// toText drops invalid UTF-8 sequences.
func toText(data []byte) string {
	return strings.ToValidUTF8(string(data), "")
}

func indentJSON(data []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(data), "", "  "); err != nil {
		return "", fmt.Errorf("parse json: %w", err)
	}
	return buf.String(), nil
}

func reformatYAML(data []byte) (string, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return "", fmt.Errorf("parse yaml: %w", err)
	}
	if node.Kind == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return "", fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encode yaml: %w", err)
	}
	return buf.String(), nil
}

func flattenCSV(data []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var lines []string
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse csv: %w", err)
		}
		lines = append(lines, strings.Join(row, ", "))
	}
	return strings.Join(lines, "\n"), nil
}
