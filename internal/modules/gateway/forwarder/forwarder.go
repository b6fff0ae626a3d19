package forwarder

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huemap/core/internal/middleware"
	"github.com/huemap/core/internal/modules/gateway/verifycache"
	"github.com/huemap/core/internal/pkg/response"
	"go.uber.org/zap"
)

// AuthService is the logical name the session authority is registered under.
const AuthService = "auth"

const defaultUpstreamTimeout = 30 * time.Second

var ErrNoAuthService = errors.New("services: \"auth\" is required")

// Stripped from relayed requests and responses.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Additionally stripped from upstream responses; the gateway owns these.
var responseOnlyHeaders = []string{
	"Content-Length",
	"Access-Control-Allow-Origin",
	"Access-Control-Allow-Credentials",
	"Access-Control-Allow-Headers",
	"Access-Control-Allow-Methods",
	"Access-Control-Expose-Headers",
	"Access-Control-Max-Age",
}

// auth routes reachable without a live session
var publicAuthPaths = map[string]bool{
	"/login":    true,
	"/register": true,
	"/refresh":  true,
	"/verify":   true,
}

// Forwarder relays /api/:service/* to the configured upstreams after
// authenticating the caller through the verification cache.
type Forwarder struct {
	services  map[string]*url.URL
	cache     *verifycache.Cache
	authority verifycache.Verifier
	http      *http.Client
	log       *zap.Logger
}

type Option func(*Forwarder)

func WithHTTPClient(hc *http.Client) Option {
	return func(f *Forwarder) {
		if hc != nil {
			f.http = hc
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(f *Forwarder) {
		if log != nil {
			f.log = log.Named("Forwarder")
		}
	}
}

// New parses services (logical name to base URL). The auth service is
// mandatory since logout is relayed to it.
func New(services map[string]string, cache *verifycache.Cache, authority verifycache.Verifier, opts ...Option) (*Forwarder, error) {
	parsed := make(map[string]*url.URL, len(services))
	for name, raw := range services {
		u, err := url.Parse(strings.TrimRight(raw, "/"))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("services.%s: invalid base url %q", name, raw)
		}
		parsed[strings.ToLower(name)] = u
	}
	if _, ok := parsed[AuthService]; !ok {
		return nil, ErrNoAuthService
	}

	f := &Forwarder{
		services:  parsed,
		cache:     cache,
		authority: authority,
		http: &http.Client{
			Timeout: defaultUpstreamTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *Forwarder) RegisterRoutes(rg *gin.RouterGroup) {
	rg.Any("/:service", f.handle)
	rg.Any("/:service/*path", f.handle)
}

func (f *Forwarder) handle(c *gin.Context) {
	name := strings.ToLower(c.Param("service"))
	path := c.Param("path")
	if path == "" {
		path = "/"
	}

	base, ok := f.services[name]
	if !ok {
		response.NotFoundMsg(c, "unknown service: "+name)
		return
	}

	if name == AuthService && path == "/logout" {
		f.logout(c, base)
		return
	}
	if !(name == AuthService && publicAuthPaths[path]) {
		if !f.authenticate(c) {
			return
		}
	}
	f.relay(c, base)
}

// authenticate runs the cache-then-authority check. An authority failure
// counts as invalid and is not cached.
func (f *Forwarder) authenticate(c *gin.Context) bool {
	token := middleware.ExtractToken(c)
	if token == "" {
		response.Unauthorized(c)
		return false
	}
	ok, err := f.cache.Verify(c.Request.Context(), f.authority, token)
	if err != nil {
		f.log.Warn("authority verify failed", zap.Error(err))
		response.Unauthorized(c)
		return false
	}
	if !ok {
		response.Unauthorized(c)
		return false
	}
	c.Set(middleware.ContextKeyToken, token)
	return true
}

// logout drops the cached outcome before the authority is asked and again
// once it has answered, ahead of writing the reply. The second delete clears
// any valid=true written by requests verified while the logout was in flight.
func (f *Forwarder) logout(c *gin.Context, base *url.URL) {
	token := middleware.ExtractToken(c)
	if token != "" {
		f.cache.Invalidate(c.Request.Context(), token)
	}
	resp, ok := f.roundTrip(c, base)
	if token != "" {
		f.cache.Invalidate(c.Request.Context(), token)
	}
	if ok {
		f.writeResponse(c, resp)
	}
}

// relay sends the request to base keeping its original path and query.
func (f *Forwarder) relay(c *gin.Context, base *url.URL) {
	if resp, ok := f.roundTrip(c, base); ok {
		f.writeResponse(c, resp)
	}
}

// roundTrip performs the upstream call. On failure it has already answered
// the client and returns false.
func (f *Forwarder) roundTrip(c *gin.Context, base *url.URL) (*http.Response, bool) {
	target := *base
	target.Path = joinPath(base.Path, c.Request.URL.Path)
	target.RawQuery = c.Request.URL.RawQuery

	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, target.String(), c.Request.Body)
	if err != nil {
		response.InternalError(c, err)
		return nil, false
	}
	req.ContentLength = c.Request.ContentLength
	req.Header = c.Request.Header.Clone()
	removeHeaders(req.Header, hopHeaders)
	removeConnectionTokens(req.Header, c.Request.Header)
	appendForwardedFor(req.Header, peerHost(c.Request.RemoteAddr))

	resp, err := f.http.Do(req)
	if err != nil {
		f.log.Warn("upstream unreachable", zap.String("target", target.Host), zap.Error(err))
		response.BadGateway(c, "upstream unavailable")
		return nil, false
	}
	return resp, true
}

func (f *Forwarder) writeResponse(c *gin.Context, resp *http.Response) {
	defer resp.Body.Close()

	removeConnectionTokens(resp.Header, resp.Header)
	removeHeaders(resp.Header, hopHeaders)
	removeHeaders(resp.Header, responseOnlyHeaders)
	dst := c.Writer.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
	c.Status(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		f.log.Debug("copy upstream body interrupted", zap.Error(err))
	}
}

func joinPath(base, rest string) string {
	return strings.TrimRight(base, "/") + rest
}

func removeHeaders(h http.Header, names []string) {
	for _, name := range names {
		h.Del(name)
	}
}

// removeConnectionTokens drops headers named in the Connection header.
func removeConnectionTokens(h, from http.Header) {
	for _, line := range from.Values("Connection") {
		for _, name := range strings.Split(line, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
}

func peerHost(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

func appendForwardedFor(h http.Header, client string) {
	if client == "" {
		return
	}
	if prior := h.Get("X-Forwarded-For"); prior != "" {
		h.Set("X-Forwarded-For", prior+", "+client)
		return
	}
	h.Set("X-Forwarded-For", client)
}
