// Package manifest converts between M3U8 playlists and download/playlist entries.
package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/grafov/m3u8"
)

const maxVariantDepth = 4

// ErrEmptyPlaylist is returned when a playlist has no entries.
var ErrEmptyPlaylist = errors.New("playlist has no entries")

// Entry is one playlist item.
type Entry struct {
	URI      string
	Duration float64
	Title    string
}

// Decode parses an M3U8 media playlist and resolves entry URIs against base.
// base may be empty when every URI is absolute.
func Decode(r io.Reader, base string) ([]Entry, error) {
	playlist, listType, err := m3u8.DecodeFrom(r, true)
	if err != nil {
		return nil, fmt.Errorf("decode playlist: %w", err)
	}
	if listType != m3u8.MEDIA {
		return nil, fmt.Errorf("expected a media playlist")
	}
	return entriesFrom(playlist.(*m3u8.MediaPlaylist), base)
}

func entriesFrom(mediapl *m3u8.MediaPlaylist, base string) ([]Entry, error) {
	var baseURL *url.URL
	if base != "" {
		parsed, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse base URL: %w", err)
		}
		baseURL = parsed
	}

	var entries []Entry
	for i := uint(0); i < mediapl.Count(); i++ {
		seg := mediapl.Segments[i]
		if seg == nil {
			continue
		}
		uri := seg.URI
		if baseURL != nil {
			resolved, err := resolveURL(baseURL, seg.URI)
			if err != nil {
				return nil, fmt.Errorf("resolve %q: %w", seg.URI, err)
			}
			uri = resolved
		}
		entries = append(entries, Entry{URI: uri, Duration: seg.Duration, Title: seg.Title})
	}
	if len(entries) == 0 {
		return nil, ErrEmptyPlaylist
	}
	return entries, nil
}

// Encode renders entries as a closed M3U8 media playlist.
func Encode(entries []Entry) ([]byte, error) {
	capacity := uint(len(entries))
	if capacity == 0 {
		capacity = 1
	}
	mediapl, err := m3u8.NewMediaPlaylist(0, capacity)
	if err != nil {
		return nil, fmt.Errorf("create playlist: %w", err)
	}
	for _, e := range entries {
		if err := mediapl.Append(e.URI, e.Duration, e.Title); err != nil {
			return nil, fmt.Errorf("append %q: %w", e.URI, err)
		}
	}
	mediapl.Close()
	return bytes.Clone(mediapl.Encode().Bytes()), nil
}

// Fetcher downloads remote playlists.
type Fetcher struct {
	httpClient *http.Client
}

// NewFetcher creates a fetcher with the given request timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{httpClient: &http.Client{Timeout: timeout}}
}

// Fetch retrieves playlistURL and returns its entries. A master playlist is
// followed through its first variant.
func (f *Fetcher) Fetch(ctx context.Context, playlistURL string) ([]Entry, error) {
	return f.fetchWithDepth(ctx, playlistURL, 0)
}

func (f *Fetcher) fetchWithDepth(ctx context.Context, playlistURL string, depth int) ([]Entry, error) {
	if depth > maxVariantDepth {
		return nil, fmt.Errorf("max master->media recursion depth exceeded")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, playlistURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch playlist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("playlist fetch failed with status %d", resp.StatusCode)
	}

	playlist, listType, err := m3u8.DecodeFrom(resp.Body, true)
	if err != nil {
		return nil, fmt.Errorf("decode playlist: %w", err)
	}

	switch listType {
	case m3u8.MEDIA:
		return entriesFrom(playlist.(*m3u8.MediaPlaylist), playlistURL)
	case m3u8.MASTER:
		masterpl := playlist.(*m3u8.MasterPlaylist)
		if len(masterpl.Variants) == 0 {
			return nil, fmt.Errorf("no variants in master playlist")
		}
		baseURL, err := url.Parse(playlistURL)
		if err != nil {
			return nil, fmt.Errorf("parse playlist URL: %w", err)
		}
		mediaURL, err := resolveURL(baseURL, masterpl.Variants[0].URI)
		if err != nil {
			return nil, fmt.Errorf("resolve variant URL: %w", err)
		}
		return f.fetchWithDepth(ctx, mediaURL, depth+1)
	default:
		return nil, fmt.Errorf("unknown playlist type")
	}
}

func resolveURL(base *url.URL, ref string) (string, error) {
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if refURL.IsAbs() {
		return refURL.String(), nil
	}
	resolved := *base
	if strings.HasPrefix(ref, "/") {
		resolved.Path = refURL.Path
	} else {
		resolved.Path = path.Join(path.Dir(base.Path), refURL.Path)
	}
	resolved.RawQuery = refURL.RawQuery
	resolved.Fragment = refURL.Fragment
	return resolved.String(), nil
}
