package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xhad/brandvoice/internal/models"
)

var (
	ErrUnsupportedContentType = errors.New("Unsupported URL content type")
	ErrUnsupportedFileType    = errors.New("Unsupported file type")
	ErrBodyTooLarge           = errors.New("response body too large")
)

// FetchError reports a URL that could not be reached or answered with an
// error status.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("Failed to retrieve URL: %v", e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type ScraperConfig struct {
	RateLimit    float64 // requests per second
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	Client       *http.Client
	OnProgress   func(url string)
}

type Scraper struct {
	config  ScraperConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewWithConfig(config ScraperConfig, logger *zap.Logger) *Scraper {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if config.UserAgent == "" {
		config.UserAgent = "brandvoice/1.0"
	}
	if config.MaxBodyBytes == 0 {
		config.MaxBodyBytes = 50 << 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	return &Scraper{
		config:  config,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		logger:  logger,
	}
}

func New() *Scraper {
	return NewWithConfig(ScraperConfig{}, nil)
}

// ContentType asks the server what rawURL serves without downloading it.
func (s *Scraper) ContentType(ctx context.Context, rawURL string) (string, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return "", &FetchError{URL: rawURL, Err: err}
	}

	resp, err := s.do(ctx, http.MethodHead, rawURL)
	if err != nil {
		return "", err
	}
	resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		return "", &FetchError{URL: rawURL, Err: errors.New("missing Content-Type header")}
	}
	return contentType, nil
}

// Extract downloads rawURL and returns its text. Only PDF documents and HTML
// pages are supported.
func (s *Scraper) Extract(ctx context.Context, rawURL string) (models.Document, error) {
	contentType, err := s.ContentType(ctx, rawURL)
	if err != nil {
		return models.Document{}, err
	}

	var kind string
	switch {
	case strings.Contains(contentType, models.ContentTypePDF):
		kind = models.ContentTypePDF
	case strings.Contains(contentType, models.ContentTypeHTML):
		kind = models.ContentTypeHTML
	default:
		s.logger.Info("rejecting url", zap.String("url", rawURL), zap.String("content_type", contentType))
		return models.Document{}, ErrUnsupportedContentType
	}

	if s.config.OnProgress != nil {
		s.config.OnProgress(rawURL)
	}

	resp, err := s.do(ctx, http.MethodGet, rawURL)
	if err != nil {
		return models.Document{}, err
	}
	defer resp.Body.Close()

	document := models.Document{
		Source:      rawURL,
		ContentType: kind,
		Metadata: map[string]interface{}{
			"time":         time.Now(),
			"contentType":  contentType,
			"lastModified": resp.Header.Get("Last-Modified"),
		},
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.config.MaxBodyBytes+1))
	if err != nil {
		return models.Document{}, &FetchError{URL: rawURL, Err: err}
	}
	if int64(len(data)) > s.config.MaxBodyBytes {
		return models.Document{}, fmt.Errorf("%w: %s exceeds %d bytes", ErrBodyTooLarge, rawURL, s.config.MaxBodyBytes)
	}

	if kind == models.ContentTypePDF {
		text, pages, err := ExtractPDFText(data, remotePDF)
		if err != nil {
			return models.Document{}, err
		}
		document.Content = text
		document.Metadata["pages"] = pages
	} else {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
		if err != nil {
			return models.Document{}, fmt.Errorf("failed to parse html: %w", err)
		}
		document.Title = strings.TrimSpace(doc.Find("title").First().Text())
		document.Content = extractText(doc)
	}

	s.logger.Debug("extracted document",
		zap.String("url", rawURL),
		zap.String("content_type", kind),
		zap.Int("length", len(document.Content)))

	return document, nil
}

// ExtractUpload returns the text of an uploaded file. Only PDFs are accepted.
func (s *Scraper) ExtractUpload(filename, contentType string, data []byte) (models.Document, error) {
	if contentType != models.ContentTypePDF {
		return models.Document{}, ErrUnsupportedFileType
	}

	text, pages, err := ExtractPDFText(data, uploadedPDF)
	if err != nil {
		return models.Document{}, err
	}

	s.logger.Debug("extracted upload",
		zap.String("filename", filename),
		zap.Int("pages", pages),
		zap.Int("length", len(text)))

	return models.Document{
		Source:      filename,
		ContentType: models.ContentTypePDF,
		Content:     text,
		Metadata: map[string]interface{}{
			"time":  time.Now(),
			"pages": pages,
			"size":  len(data),
		},
	}, nil
}

func (s *Scraper) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	// Apply rate limiting
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		resp.Body.Close()
		return nil, &FetchError{
			URL: rawURL,
			Err: fmt.Errorf("received status code %d", resp.StatusCode),
		}
	}
	return resp, nil
}

// extractText returns every visible text node of the page, one per line.
func extractText(doc *goquery.Document) string {
	var lines []string
	collectText(doc.Selection, &lines)
	return strings.Join(lines, "\n")
}

func collectText(sel *goquery.Selection, lines *[]string) {
	sel.Contents().Each(func(_ int, child *goquery.Selection) {
		switch goquery.NodeName(child) {
		case "#text":
			if text := strings.TrimSpace(child.Text()); text != "" {
				*lines = append(*lines, text)
			}
		case "script", "style", "noscript", "template", "#comment":
		default:
			collectText(child, lines)
		}
	})
}
