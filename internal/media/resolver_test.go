package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"llms-gateway/internal/cache"
	"llms-gateway/internal/llm"
	"llms-gateway/pkg/logging/logging"
)

func testContext(t *testing.T) context.Context {
	return logging.WithLogger(context.Background(), zaptest.NewLogger(t))
}

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func imagePart(ref string) llm.ContentPart {
	return llm.ContentPart{Type: llm.PartImageURL, ImageURL: &llm.ImageURL{URL: ref}}
}

func requestWith(parts ...llm.ContentPart) *llm.ChatRequest {
	return &llm.ChatRequest{
		Model:    "m",
		Messages: []llm.Message{llm.NewMessage(llm.RoleUser, llm.PartsContent(parts...))},
	}
}

// failingTransport fails the test if any request reaches the network.
type failingTransport struct{ t *testing.T }

func (f failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	f.t.Fatalf("unexpected network call")
	return nil, nil
}

func TestResolveTextOnlyIsNoop(t *testing.T) {
	t.Parallel()

	r := NewResolver(WithHTTPClient(&http.Client{Transport: failingTransport{t}}))
	req := &llm.ChatRequest{
		Model: "m",
		Messages: []llm.Message{
			llm.NewMessage(llm.RoleSystem, llm.TextContent("be brief")),
			llm.NewMessage(llm.RoleUser, llm.PartsContent(llm.ContentPart{Type: llm.PartText, Text: "hi"})),
		},
	}
	before := req.Clone()

	require.NoError(t, r.Resolve(testContext(t), req))
	assert.Equal(t, before, req)
}

func TestResolveURLFetchesOnceAndCaches(t *testing.T) {
	t.Parallel()

	img := pngBytes(t, 4, 4, color.Black)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(img)
	}))
	defer srv.Close()

	store := cache.NewMemoryCache(time.Minute)
	defer store.Close()
	r := NewResolver(WithCache(store, time.Minute))

	ref := srv.URL + "/cat.png?size=small"
	req := requestWith(imagePart(ref))
	require.NoError(t, r.Resolve(testContext(t), req))
	assert.EqualValues(t, 1, hits.Load())

	got := req.Messages[0].Content.Parts[0].ImageURL.URL
	assert.Equal(t, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(img), got)

	again := requestWith(imagePart(ref))
	require.NoError(t, r.Resolve(testContext(t), again))
	assert.EqualValues(t, 1, hits.Load(), "second resolve should be served from cache")
	assert.Equal(t, got, again.Messages[0].Content.Parts[0].ImageURL.URL)
}

func TestResolveLocalPathWithoutNetwork(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	imgPath := filepath.Join(dir, "pic.png")
	audioPath := filepath.Join(dir, "clip.mp3")
	docPath := filepath.Join(dir, "notes.pdf")
	img := pngBytes(t, 2, 2, color.White)
	require.NoError(t, os.WriteFile(imgPath, img, 0o600))
	require.NoError(t, os.WriteFile(audioPath, []byte("ID3audio"), 0o600))
	require.NoError(t, os.WriteFile(docPath, []byte("%PDF-1.4"), 0o600))

	r := NewResolver(WithHTTPClient(&http.Client{Transport: failingTransport{t}}))
	req := requestWith(
		imagePart(imgPath),
		llm.ContentPart{Type: llm.PartInputAudio, InputAudio: &llm.InputAudio{Data: audioPath}},
		llm.ContentPart{Type: llm.PartFile, File: &llm.File{FileData: docPath}},
	)
	require.NoError(t, r.Resolve(testContext(t), req))

	parts := req.Messages[0].Content.Parts
	assert.Equal(t, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(img), parts[0].ImageURL.URL)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("ID3audio")), parts[1].InputAudio.Data)
	assert.Equal(t, "mpeg", parts[1].InputAudio.Format)
	assert.Equal(t, "notes.pdf", parts[2].File.Filename)
	assert.True(t, strings.HasPrefix(parts[2].File.FileData, "data:application/pdf;base64,"))
}

func TestResolveIsIdempotent(t *testing.T) {
	t.Parallel()

	img := pngBytes(t, 3000, 1000, color.RGBA{R: 200, A: 128})
	r := NewResolver(
		WithHTTPClient(&http.Client{Transport: failingTransport{t}}),
		WithImagePolicy(&ImagePolicy{MaxWidth: 1536, MaxHeight: 1024, MaxLength: 1536 * 1024}),
	)

	req := requestWith(
		imagePart("data:image/png;base64,"+base64.StdEncoding.EncodeToString(img)),
		llm.ContentPart{Type: llm.PartInputAudio, InputAudio: &llm.InputAudio{Data: "AAAA", Format: "wav"}},
		llm.ContentPart{Type: llm.PartFile, File: &llm.File{FileData: "data:text/plain;base64,aGk="}},
	)
	require.NoError(t, r.Resolve(testContext(t), req))

	first := req.Clone()
	require.True(t, strings.HasPrefix(first.Messages[0].Content.Parts[0].ImageURL.URL, "data:image/jpeg;base64,"))
	assert.Equal(t, "file", first.Messages[0].Content.Parts[2].File.Filename)

	require.NoError(t, r.Resolve(testContext(t), req))
	assert.Equal(t, first, req)
}

func TestResolveInvalidReference(t *testing.T) {
	t.Parallel()

	r := NewResolver(WithHTTPClient(&http.Client{Transport: failingTransport{t}}))

	for _, part := range []llm.ContentPart{
		imagePart("ftp://example.com/a.png"),
		{Type: llm.PartInputAudio, InputAudio: &llm.InputAudio{Data: "not base64 at all!"}},
		{Type: llm.PartFile, File: &llm.File{FileData: "/definitely/not/here.pdf"}},
	} {
		err := r.Resolve(testContext(t), requestWith(part))
		require.Error(t, err)
		assert.Equal(t, llm.KindInvalidMediaReference, llm.KindOf(err))
	}
}

func TestResolveDownloadStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	r := NewResolver()
	err := r.Resolve(testContext(t), requestWith(imagePart(srv.URL+"/missing.png")))
	require.Error(t, err)
	assert.Equal(t, llm.KindInvalidMediaReference, llm.KindOf(err))
}

func TestResolveRejectsOversizedDownload(t *testing.T) {
	t.Parallel()

	memCache := cache.NewMemoryCache(time.Minute)
	defer memCache.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(bytes.Repeat([]byte("x"), 2048))
	}))
	defer srv.Close()

	r := NewResolver(WithMaxDownload(1024), WithCache(memCache, time.Minute))
	part := llm.ContentPart{Type: llm.PartFile, File: &llm.File{FileData: srv.URL + "/big.pdf"}}
	req := requestWith(part)

	err := r.Resolve(testContext(t), req)
	require.Error(t, err)
	assert.Equal(t, llm.KindInvalidMediaReference, llm.KindOf(err))
	assert.Contains(t, err.Error(), "download exceeds 1024 bytes")
	assert.Equal(t, srv.URL+"/big.pdf", req.Messages[0].Content.Parts[0].File.FileData, "reference is left as given")

	_, ok, err := memCache.Get(testContext(t), cache.KeyForURL(srv.URL+"/big.pdf"))
	require.NoError(t, err)
	assert.False(t, ok, "truncated data must not be cached")
}

func TestResolveAcceptsDownloadAtLimit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(bytes.Repeat([]byte("x"), 1024))
	}))
	defer srv.Close()

	r := NewResolver(WithMaxDownload(1024))
	req := requestWith(llm.ContentPart{Type: llm.PartFile, File: &llm.File{FileData: srv.URL + "/ok.pdf"}})
	require.NoError(t, r.Resolve(testContext(t), req))

	file := req.Messages[0].Content.Parts[0].File
	_, payload, ok := SplitDataURI(file.FileData, "")
	require.True(t, ok)
	data, err := base64.StdEncoding.DecodeString(payload)
	require.NoError(t, err)
	assert.Len(t, data, 1024)
}

func TestImagePolicyDownscalesAndFlattens(t *testing.T) {
	t.Parallel()

	p := &ImagePolicy{MaxWidth: 100, MaxHeight: 100, MaxLength: 1 << 30}
	src := pngBytes(t, 400, 200, color.NRGBA{A: 0})

	out, mimeType := p.Apply(testContext(t), src, "image/png")
	require.Equal(t, "image/jpeg", mimeType)

	decoded, _, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 100, decoded.Bounds().Dx())
	assert.Equal(t, 50, decoded.Bounds().Dy())

	r, g, b, _ := decoded.At(10, 10).RGBA()
	assert.Greater(t, r>>8, uint32(240), "transparent pixels should become white")
	assert.Greater(t, g>>8, uint32(240))
	assert.Greater(t, b>>8, uint32(240))
}

func noisyJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	seed := uint32(7)
	for i := range img.Pix {
		seed = seed*1664525 + 1013904223
		img.Pix[i] = byte(seed >> 24)
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}))
	return buf.Bytes()
}

func TestImagePolicyReencodesOversizedJPEG(t *testing.T) {
	t.Parallel()

	src := noisyJPEG(t, 128, 128)
	budget := base64Len(len(src)) - 1
	p := &ImagePolicy{MaxWidth: 1024, MaxHeight: 1024, MaxLength: budget}

	out, mimeType := p.Apply(testContext(t), src, "image/jpeg")
	assert.Equal(t, "image/jpeg", mimeType)
	assert.Less(t, len(out), len(src))
	assert.LessOrEqual(t, base64Len(len(out)), budget)

	decoded, _, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 128, decoded.Bounds().Dx(), "size within limits is kept")
}

func TestImagePolicyKeepsJPEGWithinBudget(t *testing.T) {
	t.Parallel()

	src := noisyJPEG(t, 32, 32)
	p := &ImagePolicy{MaxWidth: 1024, MaxHeight: 1024, MaxLength: base64Len(len(src))}

	out, _ := p.Apply(testContext(t), src, "image/jpeg")
	assert.Equal(t, src, out)
}

func TestImagePolicyPassesThroughOnFailure(t *testing.T) {
	t.Parallel()

	p := &ImagePolicy{MaxWidth: 10, MaxHeight: 10, MaxLength: 1}
	junk := []byte("not an image")
	out, mimeType := p.Apply(testContext(t), junk, "image/png")
	assert.Equal(t, junk, out)
	assert.Equal(t, "image/png", mimeType)
}

func TestSplitDataURI(t *testing.T) {
	t.Parallel()

	mimeType, payload, ok := SplitDataURI("data:image/webp;base64,UklG", "image/png")
	require.True(t, ok)
	assert.Equal(t, "image/webp", mimeType)
	assert.Equal(t, "UklG", payload)

	_, _, ok = SplitDataURI("https://x", "image/png")
	assert.False(t, ok)
}
