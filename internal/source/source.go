// Package source downloads inventory CSVs from remote locations: plain
// HTTP(S) URLs and Google Drive files.
package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/siteinventory/spdash/internal/ingest"
)

const userAgent = "spdash/1.0 (inventory import)"

var (
	ErrUnsupportedURL = errors.New("only http and https URLs can be imported")
	ErrRemoteStatus   = errors.New("remote server refused the download")
	ErrNoDriveAccess  = errors.New("google drive import is not configured")
	ErrWebDisabled    = errors.New("importing from web URLs is disabled")
	ErrBlockedAddress = errors.New("remote address is not allowed")
)

// Document is a downloaded file.
type Document struct {
	Name   string
	Data   []byte
	SHA256 string
}

// Fetcher downloads a document from a remote location.
type Fetcher interface {
	Fetch(ctx context.Context, target string) (*Document, error)
}

// URLFetcher downloads over plain HTTP(S) with a size cap. Unless private
// networks are allowed it refuses to connect to loopback, private,
// link-local, multicast or unspecified addresses, checked on every dial so
// redirects and DNS answers are covered too.
type URLFetcher struct {
	client *http.Client
	limit  int64
}

// NewURLFetcher creates a fetcher reading at most limit bytes per document.
func NewURLFetcher(limit int64, allowPrivate bool) *URLFetcher {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !allowPrivate {
		dialer.Control = guardDial
		// A proxy would be the dialed address and hide the real target.
		transport.Proxy = nil
	}
	transport.DialContext = dialer.DialContext
	return &URLFetcher{
		client: &http.Client{Timeout: 30 * time.Second, Transport: transport},
		limit:  limit,
	}
}

// blockedPrefixes are public-looking ranges that still reach internal hosts.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("64:ff9b::/96"),
}

// guardDial runs after DNS resolution, so address is always a literal IP.
func guardDial(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	if !AllowedAddr(ip) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, ip)
	}
	return nil
}

// AllowedAddr reports whether ip is a public unicast address.
func AllowedAddr(ip netip.Addr) bool {
	ip = ip.Unmap()
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast() {
		return false
	}
	for _, p := range blockedPrefixes {
		if p.Contains(ip) {
			return false
		}
	}
	return true
}

// Fetch downloads target.
func (f *URLFetcher) Fetch(ctx context.Context, target string) (*Document, error) {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrUnsupportedURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/csv, text/plain;q=0.9, */*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", ErrRemoteStatus, u.Host, resp.StatusCode)
	}

	data, sum, err := ingest.ReadUpload(resp.Body, f.limit)
	if err != nil {
		return nil, err
	}
	return &Document{Name: nameFromURL(u), Data: data, SHA256: sum}, nil
}

func nameFromURL(u *url.URL) string {
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return u.Host + ".csv"
	}
	return base
}

// Router sends Drive links to the Drive fetcher and everything else to the
// URL fetcher. A nil Web fetcher means web import is switched off.
type Router struct {
	Web   Fetcher
	Drive Fetcher
}

// Fetch downloads target with the matching fetcher.
func (r *Router) Fetch(ctx context.Context, target string) (*Document, error) {
	target = strings.TrimSpace(target)
	if IsDriveURL(target) {
		if r.Drive == nil {
			return nil, ErrNoDriveAccess
		}
		return r.Drive.Fetch(ctx, target)
	}
	if r.Web == nil {
		return nil, ErrWebDisabled
	}
	return r.Web.Fetch(ctx, target)
}
