package imagesource

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/visionrelay/internal/domain"
	"github.com/ZanzyTHEbar/visionrelay/internal/ports"
	"github.com/ZanzyTHEbar/visionrelay/internal/utils"
)

const (
	// DefaultMaxBytes caps a single image.
	DefaultMaxBytes = 20 << 20
	// fallbackMime is used when the content cannot be sniffed as an image.
	fallbackMime = "image/jpeg"
)

var _ ports.ImageSource = (*Loader)(nil)

// Loader reads images from disk or over HTTP.
type Loader struct {
	client   *http.Client
	maxBytes int64
	allowed  []string
	log      zerolog.Logger
}

// NewLoader creates a loader. A nil client uses a client with a 30 second timeout.
func NewLoader(client *http.Client, maxBytes int64, log zerolog.Logger) *Loader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Loader{client: client, maxBytes: maxBytes, log: log}
}

// WithAllowedHosts restricts remote fetches, redirects included, to hosts.
// An entry starting with "." also matches its subdomains. An empty list
// allows any host.
func (l *Loader) WithAllowedHosts(hosts []string) *Loader {
	l.allowed = nil
	for _, h := range hosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			l.allowed = append(l.allowed, h)
		}
	}
	c := *l.client
	next := c.CheckRedirect
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if err := l.checkURL("image.load_url", req.URL); err != nil {
			return err
		}
		if next != nil {
			return next(req, via)
		}
		if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}
		return nil
	}
	l.client = &c
	return l
}

func (l *Loader) hostAllowed(host string) bool {
	if len(l.allowed) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, a := range l.allowed {
		if host == a || (strings.HasPrefix(a, ".") && (strings.HasSuffix(host, a) || host == a[1:])) {
			return true
		}
	}
	return false
}

func (l *Loader) checkURL(op string, u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return domain.NewError(domain.KindInvalidInput, op,
			fmt.Sprintf("unsupported image URL scheme %q", u.Scheme), nil)
	}
	if !l.hostAllowed(u.Hostname()) {
		return domain.NewError(domain.KindInvalidInput, op,
			fmt.Sprintf("image host not allowed: %s", u.Hostname()), nil)
	}
	return nil
}

// LoadFile reads the image at path.
func (l *Loader) LoadFile(ctx context.Context, path string) (*ports.Image, error) {
	const op = "image.load_file"
	if err := ctx.Err(); err != nil {
		return nil, domain.AsError(op, err)
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.NewError(domain.KindInvalidInput, op, fmt.Sprintf("image not found: %s", path), err)
		}
		return nil, domain.NewError(domain.KindInternal, op, "open image", err)
	}
	defer f.Close()

	data, err := l.readLimited(op, f)
	if err != nil {
		return nil, err
	}
	l.log.Debug().Str("path", path).Int("bytes", len(data)).Msg("image loaded")
	return &ports.Image{Source: path, MimeType: sniff(data), Data: data}, nil
}

// LoadURL fetches a remote image. data: URLs are decoded in place.
func (l *Loader) LoadURL(ctx context.Context, rawURL string) (*ports.Image, error) {
	const op = "image.load_url"
	if strings.HasPrefix(rawURL, "data:") {
		return ParseDataURL(rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, domain.NewError(domain.KindInvalidInput, op, "invalid image URL", err)
	}
	if err := l.checkURL(op, req.URL); err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			return nil, de
		}
		de := domain.AsError(op, err)
		if de.Kind == domain.KindInternal {
			de.Kind = domain.KindTransport
		}
		return nil, de
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, domain.UpstreamStatusError(op, resp.StatusCode, utils.Truncate(string(body), 512))
	}

	data, err := l.readLimited(op, resp.Body)
	if err != nil {
		return nil, err
	}
	mime := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(mime, "image/") {
		mime = sniff(data)
	}
	l.log.Debug().Str("url", rawURL).Int("bytes", len(data)).Msg("remote image loaded")
	return &ports.Image{Source: rawURL, MimeType: mime, Data: data}, nil
}

func (l *Loader) readLimited(op string, r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, l.maxBytes+1))
	if err != nil {
		return nil, domain.AsError(op, err)
	}
	if int64(len(data)) > l.maxBytes {
		return nil, domain.NewError(domain.KindInvalidInput, op,
			fmt.Sprintf("image exceeds %d bytes", l.maxBytes), nil)
	}
	return data, nil
}

func sniff(data []byte) string {
	mime := http.DetectContentType(data)
	if strings.HasPrefix(mime, "image/") {
		return mime
	}
	return fallbackMime
}

// Encode returns the standard base64 form of data.
func Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Decode reverses Encode.
func Decode(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, domain.NewError(domain.KindDecode, "image.decode", "invalid base64", err)
	}
	return data, nil
}

// DataURL inlines img as "data:<mime>;base64,<payload>".
func DataURL(img *ports.Image) string {
	mime := img.MimeType
	if mime == "" {
		mime = fallbackMime
	}
	return "data:" + mime + ";base64," + Encode(img.Data)
}

// ParseDataURL decodes a base64 data URL produced by DataURL.
func ParseDataURL(rawURL string) (*ports.Image, error) {
	const op = "image.parse_data_url"
	rest, ok := strings.CutPrefix(rawURL, "data:")
	if !ok {
		return nil, domain.NewError(domain.KindInvalidInput, op, "not a data URL", nil)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, domain.NewError(domain.KindDecode, op, "data URL has no payload", nil)
	}
	mime, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return nil, domain.NewError(domain.KindDecode, op, "only base64 data URLs are supported", nil)
	}
	data, err := Decode(payload)
	if err != nil {
		return nil, err
	}
	if mime == "" {
		mime = sniff(data)
	}
	return &ports.Image{Source: "data-url", MimeType: mime, Data: data}, nil
}
