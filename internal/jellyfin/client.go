// Package jellyfin talks to the media library that owns the source items.
package jellyfin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"resty.dev/v3"

	"github.com/therealutkarshpriyadarshi/subextract/internal/config"
	"github.com/therealutkarshpriyadarshi/subextract/internal/logging"
	"github.com/therealutkarshpriyadarshi/subextract/internal/metrics"
	"github.com/therealutkarshpriyadarshi/subextract/pkg/models"
)

// ItemCache stores playback info between requests.
type ItemCache interface {
	GetItem(ctx context.Context, itemID string) (*models.MediaItem, error)
	SetItem(ctx context.Context, item *models.MediaItem, ttl time.Duration) error
}

// Client is a Jellyfin API client.
type Client struct {
	baseURL  string
	userID   string
	api      *resty.Client
	transfer *resty.Client
	cache    ItemCache
	cacheTTL time.Duration
	group    singleflight.Group
	logger   *logging.Logger
}

// New creates a client. api requests use cfg.Timeout; transfers are bounded
// only by the caller's context.
func New(cfg config.JellyfinConfig, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	baseURL := strings.TrimRight(cfg.URL, "/")

	api := resty.New().
		SetBaseURL(baseURL).
		SetHeader("X-Emby-Token", cfg.APIKey).
		SetHeader("Accept", "application/json")
	if cfg.Timeout > 0 {
		api.SetTimeout(cfg.Timeout)
	}

	transfer := resty.New().
		SetBaseURL(baseURL).
		SetHeader("X-Emby-Token", cfg.APIKey)

	return &Client{
		baseURL:  baseURL,
		userID:   cfg.UserID,
		api:      api,
		transfer: transfer,
		cacheTTL: cfg.ItemCacheTTL,
		logger:   logger.WithComponent("jellyfin"),
	}
}

// SetItemCache installs an optional playback-info cache.
func (c *Client) SetItemCache(cache ItemCache) {
	c.cache = cache
}

// Close releases idle connections.
func (c *Client) Close() error {
	return errors.Join(c.api.Close(), c.transfer.Close())
}

type playbackInfoRequest struct {
	UserID        string        `json:"UserId,omitempty"`
	DeviceProfile deviceProfile `json:"DeviceProfile"`
}

type deviceProfile struct {
	Name             string            `json:"Name"`
	SubtitleProfiles []subtitleProfile `json:"SubtitleProfiles"`
}

type subtitleProfile struct {
	Format string `json:"Format"`
	Method string `json:"Method"`
}

// subtitleDeviceProfile asks the server to expose text tracks as external
// streams and to leave image tracks embedded.
var subtitleDeviceProfile = deviceProfile{
	Name: "subextract",
	SubtitleProfiles: []subtitleProfile{
		{Format: "srt", Method: "External"},
		{Format: "sub", Method: "External"},
		{Format: "ass", Method: "External"},
		{Format: "ssa", Method: "External"},
		{Format: "vtt", Method: "External"},
		{Format: "ttml", Method: "External"},
		{Format: "pgssub", Method: "Embed"},
	},
}

type playbackInfoResponse struct {
	MediaSources []mediaSource `json:"MediaSources"`
}

type mediaSource struct {
	ID           string        `json:"Id"`
	Name         string        `json:"Name"`
	Path         string        `json:"Path"`
	Container    string        `json:"Container"`
	Size         int64         `json:"Size"`
	MediaStreams []mediaStream `json:"MediaStreams"`
}

type mediaStream struct {
	Index                  int    `json:"Index"`
	Type                   string `json:"Type"`
	Codec                  string `json:"Codec"`
	Language               string `json:"Language"`
	DisplayTitle           string `json:"DisplayTitle"`
	IsExternal             bool   `json:"IsExternal"`
	IsTextSubtitleStream   bool   `json:"IsTextSubtitleStream"`
	SupportsExternalStream bool   `json:"SupportsExternalStream"`
	DeliveryURL            string `json:"DeliveryUrl"`
}

// GetItem returns the first media source of itemID with its streams.
// Concurrent lookups of the same item share one request.
func (c *Client) GetItem(ctx context.Context, itemID string) (*models.MediaItem, error) {
	if c.cache != nil {
		if item, err := c.cache.GetItem(ctx, itemID); err != nil {
			c.logger.WithError(err).Warn("item cache read failed")
		} else if item != nil {
			return item, nil
		}
	}

	v, err, _ := c.group.Do(itemID, func() (interface{}, error) {
		return c.fetchItem(ctx, itemID)
	})
	if err != nil {
		return nil, err
	}
	item := v.(*models.MediaItem)

	if c.cache != nil && c.cacheTTL > 0 {
		if err := c.cache.SetItem(ctx, item, c.cacheTTL); err != nil {
			c.logger.WithError(err).Warn("item cache write failed")
		}
	}

	copied := *item
	copied.Streams = append([]models.SubtitleStream(nil), item.Streams...)
	return &copied, nil
}

func (c *Client) fetchItem(ctx context.Context, itemID string) (*models.MediaItem, error) {
	var info playbackInfoResponse

	req := c.api.R().
		SetContext(ctx).
		SetPathParam("itemId", itemID).
		SetBody(playbackInfoRequest{UserID: c.userID, DeviceProfile: subtitleDeviceProfile}).
		SetResult(&info)
	if c.userID != "" {
		req.SetQueryParam("UserId", c.userID)
	}

	resp, err := req.Post("/Items/{itemId}/PlaybackInfo")
	if err != nil {
		return nil, fmt.Errorf("failed to request playback info: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound, resp.StatusCode() == http.StatusBadRequest:
		return nil, fmt.Errorf("item %s: %w", itemID, models.ErrNotFound)
	case resp.IsError():
		return nil, fmt.Errorf("playback info for %s returned status %d: %s", itemID, resp.StatusCode(), resp.String())
	}

	if len(info.MediaSources) == 0 {
		return nil, fmt.Errorf("item %s has no media sources: %w", itemID, models.ErrNotFound)
	}

	src := info.MediaSources[0]
	item := &models.MediaItem{
		ID:            itemID,
		Name:          src.Name,
		Path:          src.Path,
		MediaSourceID: src.ID,
		Size:          src.Size,
		Container:     src.Container,
	}
	if item.MediaSourceID == "" {
		item.MediaSourceID = itemID
	}
	for _, s := range src.MediaStreams {
		if !strings.EqualFold(s.Type, models.StreamTypeSubtitle) {
			continue
		}
		item.Streams = append(item.Streams, models.SubtitleStream{
			Index:                  s.Index,
			Type:                   s.Type,
			Codec:                  s.Codec,
			Language:               s.Language,
			DisplayTitle:           s.DisplayTitle,
			IsExternal:             s.IsExternal,
			IsTextSubtitleStream:   s.IsTextSubtitleStream,
			SupportsExternalStream: s.SupportsExternalStream,
			DeliveryURL:            s.DeliveryURL,
		})
	}

	c.logger.WithItemID(itemID).Debugf("loaded playback info with %d subtitle streams", len(item.Streams))
	return item, nil
}

// SubtitleURL returns the download location of a subtitle stream, preferring
// the server-provided delivery URL.
func (c *Client) SubtitleURL(item *models.MediaItem, stream models.SubtitleStream) string {
	if stream.DeliveryURL != "" {
		return c.absolute(stream.DeliveryURL)
	}
	sourceID := item.MediaSourceID
	if sourceID == "" {
		sourceID = item.ID
	}
	return fmt.Sprintf("%s/Videos/%s/%s/Subtitles/%d/0/Stream.%s",
		c.baseURL, item.ID, sourceID, stream.Index, streamExtension(stream.Codec))
}

// DownloadURL returns the original-file download location of an item.
func (c *Client) DownloadURL(itemID string) string {
	return fmt.Sprintf("%s/Items/%s/Download", c.baseURL, itemID)
}

// ContentLength reports the size of the resource at url.
func (c *Client) ContentLength(ctx context.Context, url string) (int64, error) {
	resp, err := c.api.R().SetContext(ctx).Head(url)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", url, err)
	}
	if resp.IsError() {
		return 0, statusError(url, resp.StatusCode())
	}
	if resp.RawResponse == nil || resp.RawResponse.ContentLength < 0 {
		return 0, fmt.Errorf("no content length for %s", url)
	}
	return resp.RawResponse.ContentLength, nil
}

// Fetch streams url into dest through a sibling .part file and returns the
// number of bytes written. dest only appears once the body is complete.
func (c *Client) Fetch(ctx context.Context, url, dest string) (int64, error) {
	start := time.Now()

	resp, err := c.transfer.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return 0, fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return 0, statusError(url, resp.StatusCode())
	}

	part := dest + ".part"
	f, err := os.Create(part)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", part, err)
	}

	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(part)
		c.logger.LogDownload(url, dest, n, time.Since(start), err)
		return n, fmt.Errorf("failed to write %s: %w", dest, err)
	}

	if err := os.Rename(part, dest); err != nil {
		os.Remove(part)
		return n, fmt.Errorf("failed to finalize %s: %w", dest, err)
	}

	c.logger.LogDownload(url, dest, n, time.Since(start), nil)
	metrics.RecordDownload(downloadKind(dest), n)
	return n, nil
}

func (c *Client) absolute(ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return c.baseURL + ref
}

func statusError(url string, code int) error {
	if code == http.StatusNotFound {
		return fmt.Errorf("%s: %w", url, models.ErrNotFound)
	}
	return fmt.Errorf("%s returned status %d", url, code)
}

func streamExtension(codec string) string {
	switch strings.ToLower(codec) {
	case "ass":
		return "ass"
	case "ssa":
		return "ssa"
	case "webvtt", "vtt":
		return "vtt"
	default:
		return "srt"
	}
}

func downloadKind(dest string) string {
	if strings.HasSuffix(strings.ToLower(dest), ".srt") {
		return "subtitle"
	}
	return "media"
}
