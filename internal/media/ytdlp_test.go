package media

import (
	"errors"
	"testing"
)

func TestParseMediaInfoFirstLineAuthoritative(t *testing.T) {
	stdout := `{"id":"abc","title":"First","duration":93.4,"thumbnail":"https://example/t.jpg","uploader":"chan","view_count":42,"webpage_url":"https://example/w"}
{"id":"def","title":"Second"}`
	info, err := parseMediaInfo(stdout)
	if err != nil {
		t.Fatalf("parseMediaInfo returned error: %v", err)
	}
	if info.Title != "First" {
		t.Fatalf("expected first document, got %q", info.Title)
	}
	if info.Duration != 93 {
		t.Fatalf("expected truncated duration 93, got %d", info.Duration)
	}
	if info.ViewCount != 42 || info.Uploader != "chan" {
		t.Fatalf("unexpected payload %+v", info)
	}
}

func TestParseMediaInfoSkipsProgressNoise(t *testing.T) {
	stdout := "[youtube] extracting\n" + `{"id":"abc","title":"Video"}`
	info, err := parseMediaInfo(stdout)
	if err != nil {
		t.Fatalf("parseMediaInfo returned error: %v", err)
	}
	if info.Title != "Video" {
		t.Fatalf("unexpected title %q", info.Title)
	}
}

func TestParseMediaInfoMalformed(t *testing.T) {
	for _, stdout := range []string{"", "not json at all", `{"id":"abc","title":""}`, `{"broken`} {
		if _, err := parseMediaInfo(stdout); !errors.Is(err, ErrMalformedMetadata) {
			t.Fatalf("parseMediaInfo(%q): expected ErrMalformedMetadata, got %v", stdout, err)
		}
	}
}

func TestParseMediaInfoFallsBackToChannel(t *testing.T) {
	info, err := parseMediaInfo(`{"id":"abc","title":"Video","channel":"fallback"}`)
	if err != nil {
		t.Fatalf("parseMediaInfo returned error: %v", err)
	}
	if info.Uploader != "fallback" {
		t.Fatalf("expected channel fallback, got %q", info.Uploader)
	}
}

func TestParsePlaylistInfoLinePerEntry(t *testing.T) {
	stdout := `{"id":"v1","title":"One","url":"https://example/1","duration":10,"playlist_title":"Mix","playlist_id":"pl1"}
{"id":"v2","title":"Two","url":"https://example/2","duration":20}`
	info, err := parsePlaylistInfo(stdout)
	if err != nil {
		t.Fatalf("parsePlaylistInfo returned error: %v", err)
	}
	if info.Title != "Mix" || info.ID != "pl1" {
		t.Fatalf("unexpected collection identity %+v", info)
	}
	if len(info.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(info.Entries))
	}
	if info.Entries[1].Title != "Two" || info.Entries[1].Duration != 20 {
		t.Fatalf("unexpected entry %+v", info.Entries[1])
	}
}

func TestParsePlaylistInfoEmptyListing(t *testing.T) {
	if _, err := parsePlaylistInfo(""); !errors.Is(err, ErrMalformedMetadata) {
		t.Fatalf("expected ErrMalformedMetadata, got %v", err)
	}
}

func TestIsCollection(t *testing.T) {
	cases := []struct {
		target string
		want   bool
	}{
		{"https://www.youtube.com/watch?v=abc", false},
		{"https://www.youtube.com/watch?v=abc&list=PL123", true},
		{"https://www.youtube.com/playlist?list=PL123", true},
		{"https://example.com/PLAYLIST?List=9", true},
		{"https://example.com/video/9", false},
	}
	for _, tc := range cases {
		if got := IsCollection(tc.target); got != tc.want {
			t.Fatalf("IsCollection(%q) = %v, want %v", tc.target, got, tc.want)
		}
	}
}
