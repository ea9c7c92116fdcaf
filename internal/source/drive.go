package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/oauth2"

	"github.com/siteinventory/spdash/internal/ingest"
)

// DriveAPI is the Drive v3 REST root.
const DriveAPI = "https://www.googleapis.com/drive/v3"

const sheetMimeType = "application/vnd.google-apps.spreadsheet"

// driveFileIDPatterns matches common Google Drive URL formats.
var driveFileIDPatterns = []*regexp.Regexp{
	// https://drive.google.com/file/d/FILE_ID/view?usp=sharing
	regexp.MustCompile(`drive\.google\.com/file/d/([a-zA-Z0-9_-]+)`),
	// https://drive.google.com/open?id=FILE_ID
	regexp.MustCompile(`drive\.google\.com/open\?id=([a-zA-Z0-9_-]+)`),
	// https://docs.google.com/spreadsheets/d/FILE_ID/edit
	regexp.MustCompile(`docs\.google\.com/(?:spreadsheets|document)/d/([a-zA-Z0-9_-]+)`),
}

// IsDriveURL reports whether rawURL looks like a Google Drive or Sheets link.
func IsDriveURL(rawURL string) bool {
	return ExtractDriveFileID(rawURL) != ""
}

// ExtractDriveFileID returns the Drive file ID in rawURL, or "".
func ExtractDriveFileID(rawURL string) string {
	for _, pat := range driveFileIDPatterns {
		if m := pat.FindStringSubmatch(rawURL); len(m) >= 2 {
			return m[1]
		}
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if parsed.Host == "drive.google.com" || parsed.Host == "www.drive.google.com" {
		return parsed.Query().Get("id")
	}
	return ""
}

// DriveFetcher downloads Drive files with an OAuth2 bearer token. Native
// Google Sheets are exported as CSV; anything else is downloaded as stored.
type DriveFetcher struct {
	tokens oauth2.TokenSource
	limit  int64

	// BaseURL overrides DriveAPI.
	BaseURL string
}

// NewDriveFetcher creates a Drive fetcher. The token needs the
// drive.readonly scope.
func NewDriveFetcher(tokens oauth2.TokenSource, limit int64) *DriveFetcher {
	return &DriveFetcher{tokens: tokens, limit: limit, BaseURL: DriveAPI}
}

// NewStaticDriveFetcher wraps a fixed access token.
func NewStaticDriveFetcher(accessToken string, limit int64) *DriveFetcher {
	return NewDriveFetcher(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}), limit)
}

type driveFile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
}

// Fetch downloads the Drive file named by target.
func (f *DriveFetcher) Fetch(ctx context.Context, target string) (*Document, error) {
	id := ExtractDriveFileID(target)
	if id == "" {
		return nil, fmt.Errorf("%w: not a drive link", ErrUnsupportedURL)
	}
	client := oauth2.NewClient(ctx, f.tokens)

	meta, err := f.meta(ctx, client, id)
	if err != nil {
		return nil, err
	}

	fileURL := fmt.Sprintf("%s/files/%s", f.BaseURL, url.PathEscape(id))
	name := meta.Name
	if meta.MimeType == sheetMimeType {
		fileURL += "/export?mimeType=" + url.QueryEscape("text/csv")
		if !strings.HasSuffix(strings.ToLower(name), ".csv") {
			name += ".csv"
		}
	} else {
		fileURL += "?alt=media"
	}

	resp, err := f.get(ctx, client, fileURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, sum, err := ingest.ReadUpload(resp.Body, f.limit)
	if err != nil {
		return nil, err
	}
	return &Document{Name: name, Data: data, SHA256: sum}, nil
}

func (f *DriveFetcher) meta(ctx context.Context, client *http.Client, id string) (*driveFile, error) {
	resp, err := f.get(ctx, client, fmt.Sprintf("%s/files/%s?fields=id,name,mimeType", f.BaseURL, url.PathEscape(id)))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var meta driveFile
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decoding drive metadata: %w", err)
	}
	if meta.Name == "" {
		meta.Name = id + ".csv"
	}
	return &meta, nil
}

func (f *DriveFetcher) get(ctx context.Context, client *http.Client, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("drive API request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: drive API returned %d: %s", ErrRemoteStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}
