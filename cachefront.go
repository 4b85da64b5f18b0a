package cachefront

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cachefront/cachefront/cache"
	capture "github.com/cachefront/cachefront/pkg/body-capture"
	serializer "github.com/cachefront/cachefront/pkg/response-serializer"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
)

type Config struct {
	// Target is the base upstream origin URI. Required.
	Target string
	// SetHeaders are merged into every upstream request.
	SetHeaders http.Header
	// IgnoreHeaders are header names stripped from cached and forwarded
	// responses. Matching is case-insensitive.
	IgnoreHeaders []string
	// CacheMethods lists the request methods eligible for caching.
	// Empty, or containing "any", means every method is eligible.
	// Requests with other methods are proxied but never stored.
	CacheMethods []string
	// Cache policy. Zero values mean unbounded; see cache.Config.
	Cache cache.Config
	// Store is the cache backend. Defaults to an in-memory map.
	Store cache.Store
	// FollowRedirect makes the upstream fetch follow redirects instead
	// of passing them through to the client.
	FollowRedirect bool
	// Bypass, when set, is evaluated once per upstream response as its
	// headers arrive. Returning true suppresses caching of that
	// particular response.
	Bypass func(*http.Response) bool
	// CreateKey overrides cache key derivation. The default is
	// "<method>:<path+query>" of the rewritten upstream URL.
	CreateKey func(*http.Request, *url.URL) string
	// HTTPError overrides the failure response written to the client
	// when the exchange cannot be served. The default is a plain-text
	// 500 Internal Server Error.
	HTTPError func(http.ResponseWriter, *http.Request, error)
	// Transport is the round tripper used to reach the upstream.
	// Defaults to http.DefaultTransport.
	Transport http.RoundTripper
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// RouteOptions is the per-route path rewriting rule:
// the final upstream path is join(BasePath, trimPrefix(path, StripPrefix))
// joined onto the target, query string and fragment preserved.
type RouteOptions struct {
	StripPrefix string
	BasePath    string
}

// Proxy is a caching reverse proxy. Requests are answered from the
// cache when possible; misses are fetched upstream and streamed to the
// client while being captured for a best-effort cache commit.
type Proxy struct {
	notifier

	target        *url.URL
	cache         *cache.Cache
	client        *http.Client
	setHeaders    http.Header
	ignoreHeaders []string
	cacheMethods  []string
	bypass        func(*http.Response) bool
	createKey     func(*http.Request, *url.URL) string
	httpError     func(http.ResponseWriter, *http.Request, error)
	log           zerolog.Logger
}

// New initializes the proxy. Configuration problems are fatal here,
// never at request time.
func New(config Config) (*Proxy, error) {
	if config.Target == "" {
		return nil, errors.New("target is required")
	}
	target, err := url.Parse(config.Target)
	if err != nil {
		return nil, fmt.Errorf("invalid target: %w", err)
	}

	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	logger = logger.With().Str("target", target.String()).Logger()

	store := config.Store
	if store == nil {
		store = cache.NewMemoryStore()
	}
	c, err := cache.New(store, config.Cache, &logger)
	if err != nil {
		return nil, fmt.Errorf("initialize cache: %w", err)
	}

	transport := config.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client := &http.Client{Transport: transport}
	if !config.FollowRedirect {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	p := &Proxy{
		target:        target,
		cache:         c,
		client:        client,
		setHeaders:    cloneHeader(config.SetHeaders),
		ignoreHeaders: append([]string(nil), config.IgnoreHeaders...),
		cacheMethods:  append([]string(nil), config.CacheMethods...),
		bypass:        config.Bypass,
		createKey:     config.CreateKey,
		httpError:     config.HTTPError,
		log:           logger,
	}
	if p.createKey == nil {
		p.createKey = defaultCreateKey
	}
	if p.httpError == nil {
		p.httpError = defaultHTTPError
	}
	return p, nil
}

// Notify registers a listener for proxy lifecycle events. Listeners are
// invoked asynchronously and must not rely on ordering across events.
func (p *Proxy) Notify(fn func(Event)) {
	p.subscribe(fn)
}

// ServeHTTP implements http.Handler with no path rewriting.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.serve(w, r, RouteOptions{})
}

// Handler returns an http.Handler applying the given path rewriting
// rule to every request, for mounting the proxy under a route.
func (p *Proxy) Handler(opts RouteOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.serve(w, r, opts)
	})
}

func (p *Proxy) serve(w http.ResponseWriter, r *http.Request, opts RouteOptions) {
	upstreamURL := p.rewriteURL(r.URL, opts)
	key := p.createKey(r, upstreamURL)
	reqLog := p.log.With().
		Str("req", xid.New().String()).
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Logger()
	p.emit(Event{Kind: EventRequest, Key: key, Request: r})

	entry, err := p.cache.Get(key)
	if err != nil {
		// a failed lookup degrades to a miss; the request is still served
		reqLog.Error().Err(err).Msg("Cache lookup failed")
		p.emit(Event{Kind: EventError, Key: key, Request: r, Err: err})
		entry = nil
	}
	if entry != nil {
		res, err := serializer.Decode(entry.Value)
		if err != nil {
			// corrupt data is never sent to the client
			reqLog.Error().Err(err).Msg("Could not decode cached response")
			p.emit(Event{Kind: EventError, Key: key, Request: r, Err: err})
			p.httpError(w, r, err)
			return
		}
		copyHeader(w.Header(), res.Header)
		w.WriteHeader(res.Status)
		if _, err := w.Write(res.Body); err != nil {
			reqLog.Error().Err(err).Msg("Could not write cached response to client")
		}
		reqLog.Debug().Str("key", key).Int("status", res.Status).Msg("Serving response from cache")
		p.emit(Event{Kind: EventCacheHit, Key: key, Request: r})
		return
	}

	p.proxy(w, r, upstreamURL, key, reqLog)
}

func (p *Proxy) proxy(w http.ResponseWriter, r *http.Request, upstreamURL *url.URL, key string, reqLog zerolog.Logger) {
	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL.String(), r.Body)
	if err != nil {
		reqLog.Error().Err(err).Msg("Could not build upstream request")
		p.emit(Event{Kind: EventError, Key: key, Request: r, Err: err})
		p.httpError(w, r, err)
		return
	}
	copyHeader(req.Header, r.Header)
	removeHopHeaders(req.Header)
	for name, values := range p.setHeaders {
		req.Header.Del(name)
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	reqLog.Trace().Str("upstream", upstreamURL.String()).Msg("Proxying request")
	p.emit(Event{Kind: EventProxyRequest, Key: key, Request: r})

	res, err := p.client.Do(req)
	if err != nil {
		reqLog.Error().Err(err).Msg("Upstream request failed")
		p.emit(Event{Kind: EventError, Key: key, Request: r, Err: err})
		p.httpError(w, r, err)
		return
	}
	defer res.Body.Close()

	// bypass is evaluated once, on header arrival, and latched
	bypass := p.bypass != nil && p.bypass(res)

	var buf *capture.Buffer
	if p.methodCacheable(r.Method) && !bypass {
		buf = capture.New()
		defer buf.Close()
	}

	header := filterHeader(res.Header, p.ignoreHeaders)
	copyHeader(w.Header(), header)
	w.WriteHeader(res.StatusCode)
	if err := streamBody(w, res.Body, buf); err != nil {
		// streaming already began, so the status cannot change; the
		// stream is terminated and nothing is cached
		reqLog.Error().Err(err).Msg("Streaming upstream response failed")
		p.emit(Event{Kind: EventError, Key: key, Request: r, Err: err})
		return
	}

	if buf == nil {
		reqLog.Debug().Str("key", key).Msg("Response forwarded without caching")
		return
	}

	stored := serializer.New(res.StatusCode, header, buf.ToBuffer())
	if err := p.cache.Set(key, stored); err != nil {
		// the client already has a correct answer; caching is best-effort
		reqLog.Error().Err(err).Msg("Could not store response in cache")
		p.emit(Event{Kind: EventError, Key: key, Request: r, Err: err})
		return
	}
	reqLog.Debug().Str("key", key).Int("status", res.StatusCode).Msg("Stored response in cache")
}

// streamBody forwards the upstream body to the client chunk by chunk,
// flushing as bytes arrive, and mirrors each chunk into buf when set.
func streamBody(w http.ResponseWriter, body io.Reader, buf *capture.Buffer) error {
	flusher, _ := w.(http.Flusher)
	chunk := make([]byte, 32*1024)
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			if _, werr := w.Write(chunk[:n]); werr != nil {
				return werr
			}
			if buf != nil {
				buf.Write(chunk[:n])
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// rewriteURL maps an inbound URL onto the upstream target, applying the
// per-route strip/base rule and preserving query string and fragment.
func (p *Proxy) rewriteURL(u *url.URL, opts RouteOptions) *url.URL {
	path := u.Path
	if opts.StripPrefix != "" {
		path = strings.TrimPrefix(path, opts.StripPrefix)
	}
	if opts.BasePath != "" {
		path = joinPath(opts.BasePath, path)
	}
	target := *p.target
	target.Path = joinPath(target.Path, path)
	target.RawQuery = u.RawQuery
	target.Fragment = u.Fragment
	return &target
}

func joinPath(base, path string) string {
	base = strings.TrimSuffix(base, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

func (p *Proxy) methodCacheable(method string) bool {
	if len(p.cacheMethods) == 0 {
		return true
	}
	for _, m := range p.cacheMethods {
		if strings.EqualFold(m, "any") || strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func defaultCreateKey(r *http.Request, u *url.URL) string {
	return r.Method + ":" + u.RequestURI()
}

func defaultHTTPError(w http.ResponseWriter, r *http.Request, err error) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusInternalServerError)
	io.WriteString(w, "Internal Server Error")
}

func cloneHeader(h http.Header) http.Header {
	clone := make(http.Header, len(h))
	copyHeader(clone, h)
	return clone
}
