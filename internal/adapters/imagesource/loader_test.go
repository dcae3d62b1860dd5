package imagesource

import (
	"bytes"
	"context"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/visionrelay/internal/domain"
	"github.com/ZanzyTHEbar/visionrelay/internal/ports"
)

// A minimal PNG header is enough for content sniffing.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestEncodeDecode_RoundTrip(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for _, n := range []int{0, 1, 2, 3, 255, 4096, 65537} {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(r.IntN(256))
		}
		got, err := Decode(Encode(data))
		require.NoError(t, err)
		assert.True(t, bytes.Equal(data, got), "round trip of %d bytes", n)
	}
}

func TestDataURL_RoundTrip(t *testing.T) {
	img := &ports.Image{MimeType: "image/png", Data: append([]byte{}, pngHeader...)}
	url := DataURL(img)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

	back, err := ParseDataURL(url)
	require.NoError(t, err)
	assert.Equal(t, img.MimeType, back.MimeType)
	assert.Equal(t, img.Data, back.Data)

	_, err = ParseDataURL("data:image/png,raw")
	assert.ErrorIs(t, err, domain.ErrDecode)
	_, err = Decode("%%%")
	assert.ErrorIs(t, err, domain.ErrDecode)
}

func TestDataURL_DefaultsMime(t *testing.T) {
	assert.True(t, strings.HasPrefix(DataURL(&ports.Image{Data: []byte("x")}), "data:image/jpeg;base64,"))
}

func TestLoader_LoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tile.png")
	require.NoError(t, os.WriteFile(path, pngHeader, 0o644))

	l := NewLoader(nil, 0, zerolog.Nop())
	img, err := l.LoadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MimeType)
	assert.Equal(t, pngHeader, img.Data)
	assert.Equal(t, path, img.Source)

	_, err = l.LoadFile(context.Background(), filepath.Join(dir, "missing.png"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestLoader_LoadFileTooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 64), 0o644))

	l := NewLoader(nil, 16, zerolog.Nop())
	_, err := l.LoadFile(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), "exceeds 16 bytes")
}

func TestLoader_LoadFileCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLoader(nil, 0, zerolog.Nop()).LoadFile(ctx, "whatever")
	assert.ErrorIs(t, err, domain.ErrCanceled)
}

func TestLoader_LoadURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tile":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(pngHeader)
		case "/untyped":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(pngHeader)
		default:
			http.Error(w, "no such layer", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	l := NewLoader(srv.Client(), 0, zerolog.Nop())

	img, err := l.LoadURL(context.Background(), srv.URL+"/tile")
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MimeType)
	assert.Equal(t, pngHeader, img.Data)

	img, err = l.LoadURL(context.Background(), srv.URL+"/untyped")
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MimeType)

	_, err = l.LoadURL(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamStatus)
	assert.Contains(t, err.Error(), "API Error: 404")
}

func TestLoader_LoadURLTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewLoader(nil, 0, zerolog.Nop()).LoadURL(context.Background(), url)
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestLoader_LoadURLDataURL(t *testing.T) {
	l := NewLoader(nil, 0, zerolog.Nop())
	img, err := l.LoadURL(context.Background(), DataURL(&ports.Image{MimeType: "image/png", Data: pngHeader}))
	require.NoError(t, err)
	assert.Equal(t, pngHeader, img.Data)
}

func TestLoader_LoadURLAllowedHosts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tile":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(pngHeader)
		case "/hop":
			// Same server, reached by a host name outside the allowlist.
			http.Redirect(w, r, strings.Replace("http://"+r.Host+"/tile", "127.0.0.1", "localhost", 1), http.StatusFound)
		}
	}))
	defer srv.Close()

	t.Run("listed host", func(t *testing.T) {
		l := NewLoader(srv.Client(), 0, zerolog.Nop()).WithAllowedHosts([]string{" 127.0.0.1 "})
		img, err := l.LoadURL(context.Background(), srv.URL+"/tile")
		require.NoError(t, err)
		assert.Equal(t, pngHeader, img.Data)
	})

	t.Run("unlisted host", func(t *testing.T) {
		l := NewLoader(srv.Client(), 0, zerolog.Nop()).WithAllowedHosts([]string{"tiles.example.com"})
		_, err := l.LoadURL(context.Background(), srv.URL+"/tile")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.ErrorContains(t, err, "image host not allowed: 127.0.0.1")
	})

	t.Run("redirect to unlisted host", func(t *testing.T) {
		l := NewLoader(srv.Client(), 0, zerolog.Nop()).WithAllowedHosts([]string{"127.0.0.1"})
		_, err := l.LoadURL(context.Background(), srv.URL+"/hop")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.ErrorContains(t, err, "image host not allowed: localhost")
	})
}

func TestLoader_LoadURLRejectsScheme(t *testing.T) {
	l := NewLoader(nil, 0, zerolog.Nop())

	for _, u := range []string{"file:///etc/passwd", "gopher://example.com/x", "ftp://example.com/a.png"} {
		_, err := l.LoadURL(context.Background(), u)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, u)
		assert.ErrorContains(t, err, "unsupported image URL scheme", u)
	}
}

func TestLoader_HostAllowed(t *testing.T) {
	l := NewLoader(nil, 0, zerolog.Nop()).WithAllowedHosts([]string{"WMS.example.org", ".tiles.example.com", ""})

	tests := []struct {
		host string
		want bool
	}{
		{"wms.example.org", true},
		{"other.example.org", false},
		{"tiles.example.com", true},
		{"a.tiles.example.com", true},
		{"eviltiles.example.com", false},
		{"169.254.169.254", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, l.hostAllowed(tt.host), tt.host)
	}
	assert.True(t, NewLoader(nil, 0, zerolog.Nop()).hostAllowed("anything"))
}
