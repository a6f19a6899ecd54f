package models

import "time"

// MediaInfo is the metadata payload returned by a probe of a single target.
// Fields mirror the subset of the external tool's JSON output that the API
// exposes to callers.
type MediaInfo struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Duration   int64  `json:"duration"`
	Thumbnail  string `json:"thumbnail"`
	Uploader   string `json:"uploader"`
	ViewCount  int64  `json:"viewCount"`
	WebpageURL string `json:"webpageUrl,omitempty"`
}

// PlaylistEntry is one item of a flat playlist listing.
type PlaylistEntry struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Duration int64  `json:"duration,omitempty"`
}

// PlaylistInfo is the metadata payload returned by a flat probe of a
// collection target.
type PlaylistInfo struct {
	ID      string          `json:"id"`
	Title   string          `json:"title"`
	Entries []PlaylistEntry `json:"entries"`
}

// DownloadKind distinguishes the three download paths the service offers.
type DownloadKind string

const (
	KindVideo    DownloadKind = "video"
	KindAudio    DownloadKind = "audio"
	KindPlaylist DownloadKind = "playlist"
)

// DownloadStatus captures the terminal state of a download request.
type DownloadStatus string

const (
	DownloadPending   DownloadStatus = "pending"
	DownloadSucceeded DownloadStatus = "succeeded"
	DownloadFailed    DownloadStatus = "failed"
)

// DownloadRecord is the persisted outcome of one download request.
type DownloadRecord struct {
	ID          string         `json:"id"`
	URL         string         `json:"url"`
	Kind        DownloadKind   `json:"kind"`
	Quality     string         `json:"quality,omitempty"`
	Title       string         `json:"title,omitempty"`
	Files       []string       `json:"files,omitempty"`
	Status      DownloadStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}
