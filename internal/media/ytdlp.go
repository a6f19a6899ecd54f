package media

import (
	"bufio"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"clipfetch/internal/models"
	"clipfetch/internal/runner"
)

// Default timeout tiers. Probes must answer interactively; single downloads
// get ten minutes; playlists thirty. All three are caller configuration on
// the orchestrator, not runner policy.
const (
	DefaultProbeTimeout    = 30 * time.Second
	DefaultDownloadTimeout = 10 * time.Minute
	DefaultPlaylistTimeout = 30 * time.Minute
)

// probeInvocation builds a metadata-only run of the external tool. Metadata
// mode prints one JSON object per matched item; flat mode lists collection
// entries without resolving each one.
func (o *Orchestrator) probeInvocation(target string, flat bool) runner.Invocation {
	args := []string{"-j", "--no-warnings"}
	if flat {
		args = append(args, "--flat-playlist")
	} else {
		args = append(args, "--no-playlist")
	}
	args = append(args, "--", target)
	return runner.Invocation{
		Path:           o.cfg.ToolPath,
		Args:           args,
		Dir:            o.cfg.OutputDir,
		MaxOutputBytes: o.cfg.MaxOutputBytes,
		Timeout:        o.cfg.ProbeTimeout,
	}
}

// downloadInvocation builds a download run for a single item or an audio
// extraction, writing into the output directory under the sanitized prefix.
func (o *Orchestrator) downloadInvocation(target, selector, prefix string, kind models.DownloadKind) runner.Invocation {
	template := filepath.Join(o.cfg.OutputDir, prefix+".%(ext)s")
	var args []string
	switch kind {
	case models.KindAudio:
		args = []string{
			"-f", AudioSelector,
			"-x", "--audio-format", "mp3",
			"-o", template,
			"--embed-metadata",
			"--no-playlist",
			"--no-warnings",
		}
	default:
		args = []string{
			"-f", selector,
			"-o", template,
			"--merge-output-format", "mp4",
			"--embed-metadata",
			"--no-playlist",
			"--no-warnings",
		}
	}
	args = append(args, "--", target)
	return runner.Invocation{
		Path:           o.cfg.ToolPath,
		Args:           args,
		Dir:            o.cfg.OutputDir,
		MaxOutputBytes: o.cfg.MaxOutputBytes,
		Timeout:        o.cfg.DownloadTimeout,
	}
}

// playlistInvocation builds a batch download run writing each item into a
// per-collection subdirectory, indexed so ordering survives.
func (o *Orchestrator) playlistInvocation(target, selector, prefix string) runner.Invocation {
	template := filepath.Join(o.cfg.OutputDir, prefix, "%(playlist_index)s - %(title)s.%(ext)s")
	args := []string{
		"-f", selector,
		"-o", template,
		"--merge-output-format", "mp4",
		"--embed-metadata",
		"--yes-playlist",
		"--no-warnings",
		"--", target,
	}
	return runner.Invocation{
		Path:           o.cfg.ToolPath,
		Args:           args,
		Dir:            o.cfg.OutputDir,
		MaxOutputBytes: o.cfg.MaxOutputBytes,
		Timeout:        o.cfg.PlaylistTimeout,
	}
}

// rawMediaInfo mirrors the tool's metadata JSON field names.
type rawMediaInfo struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Duration   float64 `json:"duration"`
	Thumbnail  string  `json:"thumbnail"`
	Uploader   string  `json:"uploader"`
	Channel    string  `json:"channel"`
	ViewCount  int64   `json:"view_count"`
	WebpageURL string  `json:"webpage_url"`
	URL        string  `json:"url"`
}

// parseMediaInfo decodes the first JSON line of a metadata probe. Multiple
// lines can appear when the extractor matches more than one item; the first
// is authoritative.
func parseMediaInfo(stdout string) (models.MediaInfo, error) {
	line, err := firstJSONLine(stdout)
	if err != nil {
		return models.MediaInfo{}, err
	}
	var raw rawMediaInfo
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return models.MediaInfo{}, fmt.Errorf("%w: %v", ErrMalformedMetadata, err)
	}
	if strings.TrimSpace(raw.Title) == "" {
		return models.MediaInfo{}, fmt.Errorf("%w: missing title", ErrMalformedMetadata)
	}
	uploader := raw.Uploader
	if uploader == "" {
		uploader = raw.Channel
	}
	return models.MediaInfo{
		ID:         raw.ID,
		Title:      raw.Title,
		Duration:   int64(raw.Duration),
		Thumbnail:  raw.Thumbnail,
		Uploader:   uploader,
		ViewCount:  raw.ViewCount,
		WebpageURL: raw.WebpageURL,
	}, nil
}

type rawPlaylistEntry struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Duration      float64 `json:"duration"`
	Playlist      string  `json:"playlist"`
	PlaylistID    string  `json:"playlist_id"`
	PlaylistTitle string  `json:"playlist_title"`
}

// parsePlaylistInfo decodes a flat collection probe: one JSON line per entry.
func parsePlaylistInfo(stdout string) (models.PlaylistInfo, error) {
	var info models.PlaylistInfo
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		var raw rawPlaylistEntry
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return models.PlaylistInfo{}, fmt.Errorf("%w: %v", ErrMalformedMetadata, err)
		}
		if info.Title == "" {
			switch {
			case raw.PlaylistTitle != "":
				info.Title = raw.PlaylistTitle
			case raw.Playlist != "":
				info.Title = raw.Playlist
			}
		}
		if info.ID == "" && raw.PlaylistID != "" {
			info.ID = raw.PlaylistID
		}
		info.Entries = append(info.Entries, models.PlaylistEntry{
			ID:       raw.ID,
			Title:    raw.Title,
			URL:      raw.URL,
			Duration: int64(raw.Duration),
		})
	}
	if err := scanner.Err(); err != nil {
		return models.PlaylistInfo{}, fmt.Errorf("%w: %v", ErrMalformedMetadata, err)
	}
	if len(info.Entries) == 0 {
		return models.PlaylistInfo{}, fmt.Errorf("%w: empty collection listing", ErrMalformedMetadata)
	}
	if info.Title == "" {
		info.Title = info.Entries[0].Title
	}
	return info, nil
}

func firstJSONLine(stdout string) (string, error) {
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "{") {
			return line, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedMetadata, err)
	}
	return "", fmt.Errorf("%w: no JSON document in tool output", ErrMalformedMetadata)
}

// IsCollection classifies a target identifier as a multi-item collection by
// string pattern alone; no content inspection happens here.
func IsCollection(target string) bool {
	lowered := strings.ToLower(target)
	return strings.Contains(lowered, "list=") || strings.Contains(lowered, "/playlist")
}
