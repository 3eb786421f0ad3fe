package media

import (
	"context"
	"net/url"

	"video-pipeline/internal/provider"
	"video-pipeline/internal/vault"
)

const perPage = "5"

// Pexels searches api.pexels.com photos and videos.
type Pexels struct {
	BaseURL  string
	VideoURL string
	Client   *provider.Client
	Creds    vault.Credentials
}

func (p *Pexels) Name() string { return "pexels" }

func (p *Pexels) Search(ctx context.Context, query string) ([]string, error) {
	key := lookup(p.Creds, "pexels")
	if key == "" {
		return nil, provider.MissingKey("pexels")
	}
	q := url.Values{"query": {query}, "per_page": {perPage}, "orientation": {"landscape"}}
	endpoint := baseURL(p.BaseURL, "https://api.pexels.com/v1") + "/search?" + q.Encode()

	var out struct {
		Photos []struct {
			Src struct {
				Large2x   string `json:"large2x"`
				Landscape string `json:"landscape"`
			} `json:"src"`
		} `json:"photos"`
	}
	if err := client(p.Client).JSON(ctx, "pexels", provider.Get(endpoint, map[string]string{"Authorization": key}), &out); err != nil {
		return nil, err
	}
	var urls []string
	for _, ph := range out.Photos {
		if u := first(ph.Src.Large2x, ph.Src.Landscape); u != "" {
			urls = append(urls, u)
		}
	}
	return urls, nil
}

// maxClipWidth caps the rendition picked from a clip's video files.
const maxClipWidth = 1920

// SearchVideos searches api.pexels.com stock footage and returns one MP4
// rendition per clip, the widest no wider than maxClipWidth.
func (p *Pexels) SearchVideos(ctx context.Context, query string) ([]string, error) {
	key := lookup(p.Creds, "pexels")
	if key == "" {
		return nil, provider.MissingKey("pexels")
	}
	q := url.Values{"query": {query}, "per_page": {perPage}, "orientation": {"landscape"}}
	endpoint := baseURL(p.VideoURL, "https://api.pexels.com/videos") + "/search?" + q.Encode()

	var out struct {
		Videos []struct {
			Files []struct {
				Link     string `json:"link"`
				FileType string `json:"file_type"`
				Width    int    `json:"width"`
			} `json:"video_files"`
		} `json:"videos"`
	}
	if err := client(p.Client).JSON(ctx, "pexels", provider.Get(endpoint, map[string]string{"Authorization": key}), &out); err != nil {
		return nil, err
	}
	var urls []string
	for _, v := range out.Videos {
		best, width := "", 0
		for _, f := range v.Files {
			if f.FileType != "video/mp4" || f.Link == "" || f.Width > maxClipWidth {
				continue
			}
			if best == "" || f.Width > width {
				best, width = f.Link, f.Width
			}
		}
		if best != "" {
			urls = append(urls, best)
		}
	}
	return urls, nil
}

// Pixabay searches pixabay.com images.
type Pixabay struct {
	BaseURL string
	Client  *provider.Client
	Creds   vault.Credentials
}

func (p *Pixabay) Name() string { return "pixabay" }

func (p *Pixabay) Search(ctx context.Context, query string) ([]string, error) {
	key := lookup(p.Creds, "pixabay")
	if key == "" {
		return nil, provider.MissingKey("pixabay")
	}
	q := url.Values{
		"key":         {key},
		"q":           {query},
		"image_type":  {"photo"},
		"orientation": {"horizontal"},
		"safesearch":  {"true"},
		"per_page":    {perPage},
	}
	endpoint := baseURL(p.BaseURL, "https://pixabay.com/api") + "/?" + q.Encode()

	var out struct {
		Hits []struct {
			LargeImageURL string `json:"largeImageURL"`
			WebformatURL  string `json:"webformatURL"`
		} `json:"hits"`
	}
	if err := client(p.Client).JSON(ctx, "pixabay", provider.Get(endpoint, nil), &out); err != nil {
		return nil, err
	}
	var urls []string
	for _, h := range out.Hits {
		if u := first(h.LargeImageURL, h.WebformatURL); u != "" {
			urls = append(urls, u)
		}
	}
	return urls, nil
}

// Unsplash searches api.unsplash.com photos.
type Unsplash struct {
	BaseURL string
	Client  *provider.Client
	Creds   vault.Credentials
}

func (u *Unsplash) Name() string { return "unsplash" }

func (u *Unsplash) Search(ctx context.Context, query string) ([]string, error) {
	key := lookup(u.Creds, "unsplash")
	if key == "" {
		return nil, provider.MissingKey("unsplash")
	}
	q := url.Values{"query": {query}, "per_page": {perPage}, "orientation": {"landscape"}}
	endpoint := baseURL(u.BaseURL, "https://api.unsplash.com") + "/search/photos?" + q.Encode()

	var out struct {
		Results []struct {
			URLs struct {
				Full    string `json:"full"`
				Regular string `json:"regular"`
			} `json:"urls"`
		} `json:"results"`
	}
	headers := map[string]string{"Authorization": "Client-ID " + key, "Accept-Version": "v1"}
	if err := client(u.Client).JSON(ctx, "unsplash", provider.Get(endpoint, headers), &out); err != nil {
		return nil, err
	}
	var urls []string
	for _, r := range out.Results {
		if s := first(r.URLs.Regular, r.URLs.Full); s != "" {
			urls = append(urls, s)
		}
	}
	return urls, nil
}

func lookup(creds vault.Credentials, name string) string {
	if creds == nil {
		return ""
	}
	return creds.Lookup(name)
}

func client(c *provider.Client) *provider.Client {
	if c == nil {
		return provider.NewClient(provider.Options{})
	}
	return c
}

func baseURL(configured, def string) string {
	if configured != "" {
		return configured
	}
	return def
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
