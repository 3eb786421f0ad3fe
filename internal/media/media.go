package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	_ "golang.org/x/image/webp"

	"video-pipeline/internal/models"
	"video-pipeline/internal/provider"
)

// Asset is the still image or stock clip chosen for one scene.
type Asset struct {
	Path        string `json:"path"`
	Source      string `json:"source"`
	Keyword     string `json:"keyword"`
	Video       bool   `json:"video"`
	Placeholder bool   `json:"placeholder"`
}

// Searcher finds candidate image URLs for a query.
type Searcher interface {
	Name() string
	Search(ctx context.Context, query string) ([]string, error)
}

// VideoSearcher finds candidate stock clip URLs for a query.
type VideoSearcher interface {
	Name() string
	SearchVideos(ctx context.Context, query string) ([]string, error)
}

// FallbackFunc observes a provider being skipped.
type FallbackFunc func(provider, reason string, err error)

// Options configures a Fetcher.
type Options struct {
	Videos     []VideoSearcher // tried before stills; leave empty when clips cannot be rendered
	Searchers  []Searcher
	Client     *provider.Client
	Width      int
	Height     int
	Logger     zerolog.Logger
	OnFallback FallbackFunc
}

// Fetcher resolves one asset per scene from clip and still searchers in
// priority order and synthesizes a placeholder when every provider comes up
// empty.
type Fetcher struct {
	videos     []VideoSearcher
	searchers  []Searcher
	client     *provider.Client
	width      int
	height     int
	logger     zerolog.Logger
	onFallback FallbackFunc
}

func NewFetcher(opts Options) *Fetcher {
	if opts.Client == nil {
		opts.Client = provider.NewClient(provider.Options{})
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1920, 1080
	}
	return &Fetcher{
		videos:     opts.Videos,
		searchers:  opts.Searchers,
		client:     opts.Client,
		width:      opts.Width,
		height:     opts.Height,
		logger:     opts.Logger,
		onFallback: opts.OnFallback,
	}
}

// Fetch returns len(queries) assets written into dir: MP4 clips or JPEG stills.
func (f *Fetcher) Fetch(ctx context.Context, queries []string, mood models.Mood, dir string) ([]Asset, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	remote, cancel := provider.Budget(ctx, provider.ProviderShare)
	defer cancel()

	used := map[string]struct{}{}
	assets := make([]Asset, 0, len(queries))
	for i, q := range queries {
		q = strings.TrimSpace(q)
		base := filepath.Join(dir, fmt.Sprintf("scene_%03d", i))

		sctx, cancelScene := provider.Attempt(remote, i, len(queries))
		asset, err := f.fromProviders(sctx, q, base, used)
		if err != nil && sctx.Err() != nil && ctx.Err() == nil {
			asset, err = nil, nil
		}
		cancelScene()
		if err != nil {
			return nil, err
		}
		if asset == nil {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			path := base + ".jpg"
			if err := WritePlaceholder(path, f.width, f.height, q, mood, i); err != nil {
				return nil, fmt.Errorf("placeholder for scene %d: %w", i, err)
			}
			asset = &Asset{Path: path, Source: "placeholder", Keyword: q, Placeholder: true}
		}
		assets = append(assets, *asset)
	}
	return assets, nil
}

// fromProviders returns nil when no provider produced a usable clip or image.
func (f *Fetcher) fromProviders(ctx context.Context, query, base string, used map[string]struct{}) (*Asset, error) {
	if query == "" {
		return nil, nil
	}
	n := len(f.videos) + len(f.searchers)
	for i, v := range f.videos {
		actx, cancel := provider.Attempt(ctx, i, n)
		asset, err := f.try(ctx, actx, v.Name(), v.SearchVideos, f.downloadVideo, query, base+".mp4", used)
		cancel()
		if asset != nil || err != nil {
			if asset != nil {
				asset.Video = true
			}
			return asset, err
		}
	}
	for i, s := range f.searchers {
		actx, cancel := provider.Attempt(ctx, len(f.videos)+i, n)
		asset, err := f.try(ctx, actx, s.Name(), s.Search, f.download, query, base+".jpg", used)
		cancel()
		if asset != nil || err != nil {
			return asset, err
		}
	}
	return nil, nil
}

type searchFunc func(ctx context.Context, query string) ([]string, error)

type downloadFunc func(ctx context.Context, name, url, path string) error

// try searches one provider within actx and downloads the first unused hit.
func (f *Fetcher) try(ctx, actx context.Context, name string, search searchFunc, download downloadFunc, query, path string, used map[string]struct{}) (*Asset, error) {
	urls, err := search(actx, query)
	if err = provider.Classify(ctx, actx, name, err); err != nil {
		if !models.IsProvider(err) {
			return nil, err
		}
		f.skip(name, err)
		return nil, nil
	}
	for _, u := range urls {
		if _, seen := used[u]; seen {
			continue
		}
		if err := provider.Classify(ctx, actx, name, download(actx, name, u, path)); err != nil {
			if !models.IsProvider(err) {
				return nil, err
			}
			f.skip(name, err)
			if actx.Err() != nil {
				return nil, nil
			}
			continue
		}
		used[u] = struct{}{}
		return &Asset{Path: path, Source: name, Keyword: query}, nil
	}
	if len(urls) == 0 {
		f.skip(name, provider.Fail(name, "no_results", nil))
	}
	return nil, nil
}

func (f *Fetcher) download(ctx context.Context, name, url, path string) error {
	body, _, err := f.client.Do(ctx, name, provider.Get(url, nil))
	if err != nil {
		return err
	}
	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return provider.Fail(name, "decode_image", err)
	}
	img = imaging.Fill(Polish(img), f.width, f.height, imaging.Center, imaging.Lanczos)
	if err := imaging.Save(img, path, imaging.JPEGQuality(88)); err != nil {
		return fmt.Errorf("save image: %w", err)
	}
	return nil
}

func (f *Fetcher) downloadVideo(ctx context.Context, name, url, path string) error {
	body, _, err := f.client.Do(ctx, name, provider.Get(url, nil))
	if err != nil {
		return err
	}
	if ct := http.DetectContentType(body); !strings.HasPrefix(ct, "video/") {
		return provider.Fail(name, "not_video", fmt.Errorf("content type %s", ct))
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("save clip: %w", err)
	}
	return nil
}

func (f *Fetcher) skip(name string, err error) {
	var perr *models.ProviderError
	reason := "unknown"
	if errors.As(err, &perr) {
		reason = perr.Reason
	}
	f.logger.Debug().Str("provider", name).Str("reason", reason).Msg("media fallback")
	if f.onFallback != nil {
		f.onFallback(name, reason, err)
	}
}
