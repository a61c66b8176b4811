package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/viant/afs"
	"go.uber.org/zap"

	"llms-gateway/internal/cache"
	"llms-gateway/internal/llm"
	"llms-gateway/internal/metrics"
	"llms-gateway/pkg/logging/logging"
)

const (
	maxPathLength   = 1024
	defaultMIME     = "application/octet-stream"
	defaultCacheTTL = 5 * time.Minute
	maxFetchBytes   = 64 * 1024 * 1024
)

// Resolver rewrites every image, audio and file reference in a request into
// inline base64 so that providers never have to perform I/O themselves.
type Resolver struct {
	client   *http.Client
	fs       afs.Service
	cache    cache.Cache
	cacheTTL time.Duration
	policy   *ImagePolicy
	maxFetch int64
}

type Option func(*Resolver)

func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.client = c }
}

// WithCache keeps downloaded media for ttl so repeated turns of the same
// conversation do not download it again.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cache = c
		r.cacheTTL = ttl
	}
}

// WithImagePolicy enables image downscaling and re-encoding.
func WithImagePolicy(p *ImagePolicy) Option {
	return func(r *Resolver) { r.policy = p }
}

// WithMaxDownload caps the size of a single media download. Larger
// downloads are rejected rather than truncated.
func WithMaxDownload(n int64) Option {
	return func(r *Resolver) { r.maxFetch = n }
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		fs:       afs.New(),
		cacheTTL: defaultCacheTTL,
		maxFetch: maxFetchBytes,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		r.client = llm.NewHTTPClient(llm.HTTPConfig{})
	}
	return r
}

// Resolve inlines all media references of req in place. Requests without
// multimodal content are left untouched.
func (r *Resolver) Resolve(ctx context.Context, req *llm.ChatRequest) error {
	if req == nil {
		return fmt.Errorf("media: request is nil")
	}
	for i := range req.Messages {
		content := &req.Messages[i].Content
		if !content.IsParts() {
			continue
		}
		for j := range content.Parts {
			if err := r.resolvePart(ctx, &content.Parts[j]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Resolver) resolvePart(ctx context.Context, part *llm.ContentPart) error {
	switch part.Type {
	case llm.PartImageURL:
		if part.ImageURL == nil {
			return nil
		}
		return r.resolveImage(ctx, part.ImageURL)
	case llm.PartInputAudio:
		if part.InputAudio == nil {
			return nil
		}
		return r.resolveAudio(ctx, part.InputAudio)
	case llm.PartFile:
		if part.File == nil || part.File.FileData == "" {
			return nil
		}
		return r.resolveFile(ctx, part.File)
	}
	return nil
}

func (r *Resolver) resolveImage(ctx context.Context, img *llm.ImageURL) error {
	ref := img.URL

	var (
		data     []byte
		mimeType string
		source   string
		err      error
	)

	switch {
	case isURL(ref):
		source = "url"
		data, mimeType, err = r.fetch(ctx, ref)
	case isDataURI(ref):
		if r.policy == nil {
			return nil
		}
		var ok bool
		mimeType, data, ok = decodeDataURI(ref)
		if !ok {
			// not base64 encoded; nothing to convert
			return nil
		}
		source = "inline"
	case r.isFilePath(ctx, ref):
		source = "path"
		data, err = r.readFile(ctx, ref)
		mimeType = mimeFromName(ref)
	default:
		return llm.InvalidMediaReference(ref, nil)
	}
	if err != nil {
		return err
	}

	if r.policy != nil {
		data, mimeType = r.policy.Apply(ctx, data, mimeType)
	}
	img.URL = dataURI(mimeType, data)
	metrics.MediaResolvedTotal.WithLabelValues(llm.PartImageURL, source).Inc()
	return nil
}

func (r *Resolver) resolveAudio(ctx context.Context, audio *llm.InputAudio) error {
	ref := audio.Data
	mimeType := mimeFromName(ref)

	var (
		data   []byte
		source string
		err    error
	)

	switch {
	case isURL(ref):
		source = "url"
		data, mimeType, err = r.fetch(ctx, ref)
	case r.isFilePath(ctx, ref):
		source = "path"
		data, err = r.readFile(ctx, ref)
	case isBase64(ref):
		return nil
	default:
		return llm.InvalidMediaReference(ref, nil)
	}
	if err != nil {
		return err
	}

	audio.Data = base64.StdEncoding.EncodeToString(data)
	audio.Format = subtype(mimeType)
	metrics.MediaResolvedTotal.WithLabelValues(llm.PartInputAudio, source).Inc()
	return nil
}

func (r *Resolver) resolveFile(ctx context.Context, file *llm.File) error {
	ref := file.FileData
	// file parts are typed by name, not by what the server claims
	mimeType := mimeFromName(ref)

	var (
		data   []byte
		source string
		err    error
	)

	switch {
	case isURL(ref):
		source = "url"
		data, _, err = r.fetch(ctx, ref)
	case r.isFilePath(ctx, ref):
		source = "path"
		data, err = r.readFile(ctx, ref)
	case isDataURI(ref):
		if file.Filename == "" {
			file.Filename = "file"
		}
		return nil
	default:
		return llm.InvalidMediaReference(ref, nil)
	}
	if err != nil {
		return err
	}

	file.Filename = filename(ref)
	file.FileData = dataURI(mimeType, data)
	metrics.MediaResolvedTotal.WithLabelValues(llm.PartFile, source).Inc()
	return nil
}

// fetch downloads ref, consulting the cache first. The returned MIME type
// comes from the Content-Type header, or the file extension when absent.
func (r *Resolver) fetch(ctx context.Context, ref string) ([]byte, string, error) {
	key := cache.KeyForURL(ref)
	if r.cache != nil {
		if entry, ok, err := r.cache.Get(ctx, key); err == nil && ok {
			return entry.Data, entry.ContentType, nil
		}
	}

	logger := logging.L(ctx)
	logger.Debug("downloading media", zap.String("url", llm.Truncate(ref, 200)))
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, "", llm.InvalidMediaReference(ref, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, "", llm.WrapTransport("", fmt.Errorf("download %s: %w", llm.Truncate(ref, 200), err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, "", llm.InvalidMediaReference(ref, fmt.Errorf("download returned HTTP %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxFetch+1))
	if err != nil {
		return nil, "", llm.WrapTransport("", fmt.Errorf("read %s: %w", llm.Truncate(ref, 200), err))
	}
	if int64(len(data)) > r.maxFetch {
		return nil, "", llm.InvalidMediaReference(ref, fmt.Errorf("download exceeds %d bytes", r.maxFetch))
	}

	mimeType := mimeFromName(ref)
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			mimeType = mt
		}
	}

	logger.Debug("downloaded media",
		zap.Int("bytes", len(data)),
		zap.String("mime", mimeType),
		zap.Duration("duration", time.Since(start)),
	)

	if r.cache != nil {
		_ = r.cache.Set(ctx, key, cache.Entry{ContentType: mimeType, Data: data}, r.cacheTTL)
	}
	return data, mimeType, nil
}

func (r *Resolver) readFile(ctx context.Context, p string) ([]byte, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return nil, llm.InvalidMediaReference(p, err)
	}
	reader, err := r.fs.OpenURL(ctx, abs)
	if err != nil {
		return nil, llm.InvalidMediaReference(p, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, llm.InvalidMediaReference(p, err)
	}
	logging.L(ctx).Debug("read media file", zap.String("path", p), zap.Int("bytes", len(data)))
	return data, nil
}

// isFilePath reports whether ref names an existing local file.
func (r *Resolver) isFilePath(ctx context.Context, ref string) bool {
	if ref == "" || len(ref) >= maxPathLength || strings.Contains(ref, "://") || isDataURI(ref) {
		return false
	}
	abs, err := filepath.Abs(ref)
	if err != nil {
		return false
	}
	ok, err := r.fs.Exists(ctx, abs)
	return err == nil && ok
}

func isURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

func isDataURI(ref string) bool {
	return strings.HasPrefix(ref, "data:")
}

func isBase64(s string) bool {
	if s == "" {
		return false
	}
	if _, err := base64.StdEncoding.DecodeString(s); err == nil {
		return true
	}
	_, err := base64.RawStdEncoding.DecodeString(s)
	return err == nil
}

// decodeDataURI splits data:<mime>;base64,<payload>. ok is false for data
// URIs that are not base64 encoded or do not decode.
func decodeDataURI(ref string) (mimeType string, data []byte, ok bool) {
	prefix, payload, found := strings.Cut(ref, ";base64,")
	if !found {
		return "", nil, false
	}
	mimeType = strings.TrimPrefix(prefix, "data:")
	if mimeType == "" {
		mimeType = "image/png"
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, false
	}
	return mimeType, data, true
}

// SplitDataURI returns the MIME type and base64 payload of a data URI
// without decoding it.
func SplitDataURI(ref, fallbackMIME string) (mimeType, payload string, ok bool) {
	if !isDataURI(ref) {
		return "", "", false
	}
	head, payload, found := strings.Cut(ref, ",")
	if !found {
		return "", "", false
	}
	mimeType = fallbackMIME
	if strings.Contains(head, ";") {
		mimeType = strings.TrimPrefix(strings.SplitN(head, ";", 2)[0], "data:")
	}
	return mimeType, payload, true
}

func dataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// audio types missing from Go's built-in table on hosts without mime.types
var fallbackTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
}

func mimeFromName(ref string) string {
	ext := strings.ToLower(path.Ext(filename(ref)))
	if ext == "" {
		return defaultMIME
	}
	t := mime.TypeByExtension(ext)
	if t == "" {
		t = fallbackTypes[ext]
	}
	if t == "" {
		return defaultMIME
	}
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return t
}

// filename is the last path segment of a URL or path, without query.
func filename(ref string) string {
	if isURL(ref) {
		if u, err := url.Parse(ref); err == nil {
			ref = u.Path
		}
	}
	ref = filepath.ToSlash(ref)
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		ref = ref[i+1:]
	}
	if ref == "" {
		return "file"
	}
	return ref
}

func subtype(mimeType string) string {
	if i := strings.LastIndex(mimeType, "/"); i >= 0 {
		return mimeType[i+1:]
	}
	return mimeType
}
