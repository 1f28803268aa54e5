package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/semcache/internal/models"
)

const (
	// CacheHeader reports "hit", "miss" or "bypass" on every proxied response.
	CacheHeader = "X-Semcache"
	// CacheIDHeader carries the id of the replayed response on hits.
	CacheIDHeader = "X-Semcache-Id"

	defaultMaxBodyBytes = 10 << 20
)

// hopHeaders are not forwarded in either direction.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Proxy forwards requests to an upstream API and serves repeated prompts
// from the cache.
type Proxy struct {
	target  *url.URL
	cache   *Cache
	parser  Parser
	client  *http.Client
	logger  *zap.Logger
	maxBody int64
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithHTTPClient sets the client used for upstream requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Proxy) {
		if c != nil {
			p.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Proxy) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithParser replaces the ChatParser.
func WithParser(parser Parser) Option {
	return func(p *Proxy) {
		if parser != nil {
			p.parser = parser
		}
	}
}

// WithMaxBodyBytes limits request bodies. Zero or negative keeps the default of 10 MiB.
func WithMaxBodyBytes(n int64) Option {
	return func(p *Proxy) {
		if n > 0 {
			p.maxBody = n
		}
	}
}

// New creates a proxy for the API at targetURL, e.g. https://api.openai.com/v1.
func New(targetURL string, cache *Cache, opts ...Option) (*Proxy, error) {
	target, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid target url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid target url %q: scheme and host are required", targetURL)
	}
	p := &Proxy{
		target:  target,
		cache:   cache,
		parser:  ChatParser{},
		client:  http.DefaultClient,
		logger:  zap.NewNop(),
		maxBody: defaultMaxBodyBytes,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Handler returns the router. Every path except /healthz is forwarded.
func (p *Proxy) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.HandleFunc("/*", p.handle)
	return r
}

func (p *Proxy) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, p.maxBody))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			p.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		p.respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	key := p.cacheKey(r, body)
	if key != "" {
		resp, id, err := p.cache.Lookup(r.Context(), key)
		if err != nil {
			p.logger.Warn("cache lookup failed; forwarding", zap.Error(err))
		}
		if resp != nil {
			w.Header().Set("Content-Type", resp.ContentType)
			w.Header().Set(CacheHeader, "hit")
			w.Header().Set(CacheIDHeader, strconv.FormatInt(id, 10))
			w.WriteHeader(http.StatusOK)
			if _, err := w.Write(resp.Body); err != nil {
				p.logger.Debug("failed to write cached response", zap.Error(err))
			}
			return
		}
	}
	p.forward(w, r, body, key)
}

// cacheKey returns the text to look up, or "" when the request bypasses the cache.
func (p *Proxy) cacheKey(r *http.Request, body []byte) string {
	if r.Method != http.MethodPost || len(body) == 0 || streaming(body) {
		return ""
	}
	parts, err := p.parser.Parse(body)
	if err != nil {
		p.logger.Debug("request not cacheable", zap.String("path", r.URL.Path), zap.Error(err))
		return ""
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func (p *Proxy) forward(w http.ResponseWriter, r *http.Request, body []byte, key string) {
	u := p.target.JoinPath(r.URL.Path)
	u.RawQuery = r.URL.RawQuery
	req, err := http.NewRequestWithContext(r.Context(), r.Method, u.String(), bytes.NewReader(body))
	if err != nil {
		p.respondError(w, http.StatusInternalServerError, "failed to create upstream request")
		return
	}
	copyHeaders(req.Header, r.Header)
	// The transport negotiates and strips compression itself so that the
	// recorded body is the plain response.
	req.Header.Del("Accept-Encoding")

	p.logger.Debug("forwarding request", zap.String("method", r.Method), zap.String("url", u.String()))
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("upstream request failed", zap.String("url", u.String()), zap.Error(err))
		p.respondError(w, http.StatusBadGateway, "failed to forward request")
		return
	}
	defer resp.Body.Close()

	cacheable := key != "" && resp.StatusCode == http.StatusOK && resp.Header.Get("Content-Encoding") == ""
	copyHeaders(w.Header(), resp.Header)
	w.Header().Del("Content-Length")
	if key == "" {
		w.Header().Set(CacheHeader, "bypass")
	} else {
		w.Header().Set(CacheHeader, "miss")
	}
	w.WriteHeader(resp.StatusCode)

	var dst io.Writer = w
	var recorded bytes.Buffer
	if cacheable {
		dst = io.MultiWriter(w, &recorded)
	}
	if _, err := io.Copy(dst, resp.Body); err != nil {
		// The status line is already sent; the client sees a truncated body.
		p.logger.Warn("failed to relay upstream response", zap.Error(err))
		return
	}
	if !cacheable || recorded.Len() == 0 {
		return
	}

	id, err := p.cache.Remember(context.WithoutCancel(r.Context()), key, Response{
		ContentType: resp.Header.Get("Content-Type"),
		Body:        recorded.Bytes(),
	})
	if err != nil {
		p.logger.Warn("failed to cache response", zap.Error(err))
		return
	}
	p.logger.Debug("upstream response cached", zap.Int64("id", id))
}

func copyHeaders(dst, src http.Header) {
	for name, values := range src {
		for _, v := range values {
			dst.Add(name, v)
		}
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
}

func (p *Proxy) respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(models.ErrorResponse{Detail: message}); err != nil {
		p.logger.Debug("failed to write error response", zap.Error(err))
	}
}
