package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/xhad/verdikt/internal/models"
	"github.com/xhad/verdikt/internal/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const DefaultURLTemplate = "https://reyestr.court.gov.ua/Review/%s"

var (
	blankLines = regexp.MustCompile(`\n\s*\n+`)
	// The registry page prefixes every decision with its navigation and
	// access banner; the decision body starts after this phrase.
	leadingBoilerplate = regexp.MustCompile(`(?s)^.*?Повний доступ\s*`)
	// Login and feedback widgets follow the decision body.
	trailingBoilerplate = regexp.MustCompile(`(?s)\s*Логін: Для помилки:.*Зачекайте, будь ласка\.\.\..*$`)
)

type ScraperConfig struct {
	URLTemplate string
	RateLimit   float64 // requests per second
	Timeout     time.Duration
	UserAgent   string
	Logger      *zap.Logger
}

type Scraper struct {
	config  ScraperConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewWithConfig(config ScraperConfig) (*Scraper, error) {
	if config.URLTemplate == "" {
		config.URLTemplate = DefaultURLTemplate
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	if _, err := url.Parse(SourceURL(config.URLTemplate, "0")); err != nil {
		return nil, fmt.Errorf("invalid url template: %w", err)
	}

	return &Scraper{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		logger:  config.Logger,
	}, nil
}

// SourceURL builds the canonical page URL of a decision.
func SourceURL(template, decisionID string) string {
	return fmt.Sprintf(template, url.PathEscape(decisionID))
}

func (s *Scraper) URL(decisionID string) string {
	return SourceURL(s.config.URLTemplate, decisionID)
}

// Fetch downloads the decision page and returns its cleaned, flat text.
func (s *Scraper) Fetch(ctx context.Context, decisionID string) (models.Document, error) {
	return s.FetchURL(ctx, decisionID, s.URL(decisionID))
}

func (s *Scraper) FetchURL(ctx context.Context, decisionID, urlStr string) (models.Document, error) {
	const op = "scraper.Fetch"

	if err := s.limiter.Wait(ctx); err != nil {
		return models.Document{}, types.FetchError(op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return models.Document{}, types.FetchError(op, err)
	}
	if s.config.UserAgent != "" {
		req.Header.Set("User-Agent", s.config.UserAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return models.Document{}, types.FetchError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.Document{}, types.FetchError(op,
			fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return models.Document{}, types.ParseError(op, err)
	}

	content := CleanText(extractText(doc))
	if content == "" {
		return models.Document{}, types.ParseError(op, fmt.Errorf("no text content at %s", urlStr))
	}

	s.logger.Debug("decision page fetched",
		zap.String("decision_id", decisionID),
		zap.String("url", urlStr),
		zap.Int("content_length", len(content)))

	return models.Document{
		ID:      decisionID,
		URL:     urlStr,
		Title:   strings.TrimSpace(doc.Find("title").Text()),
		Content: content,
		Metadata: map[string]interface{}{
			"time":         time.Now(),
			"contentType":  resp.Header.Get("Content-Type"),
			"lastModified": resp.Header.Get("Last-Modified"),
		},
	}, nil
}

// extractText returns the visible text of the page with runs of blank lines
// collapsed to a single empty line.
func extractText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, template").Remove()
	text := doc.Text()
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// CleanText flattens whitespace and drops the registry page boilerplate
// around the decision body.
func CleanText(text string) string {
	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == ' ' {
			return ' '
		}
		return r
	}, text)
	text = strings.Join(strings.Fields(text), " ")
	text = leadingBoilerplate.ReplaceAllString(text, "")
	text = trailingBoilerplate.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
