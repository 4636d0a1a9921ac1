// Package updater checks published releases for a newer advisor build.
package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"strings"
)

// DefaultAPIURL is the releases/latest endpoint of the public repository.
const DefaultAPIURL = "https://api.github.com/repos/iyulab/incident-advisor/releases/latest"

// ReleaseInfo holds the result of a version check.
type ReleaseInfo struct {
	HasUpdate      bool
	CurrentVersion string
	LatestVersion  string
	// AssetURL is the download link for this platform, when published.
	AssetURL string
}

type githubRelease struct {
	TagName string        `json:"tag_name"`
	Assets  []githubAsset `json:"assets"`
}

type githubAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// CheckLatest queries apiURL (DefaultAPIURL when empty) and compares the
// latest tag with currentVersion. It only reads; nothing is downloaded.
func CheckLatest(ctx context.Context, client *http.Client, currentVersion, apiURL string) (*ReleaseInfo, error) {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("updater: create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("updater: fetch releases: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("updater: release API returned %d", resp.StatusCode)
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("updater: parse response: %w", err)
	}

	info := &ReleaseInfo{
		CurrentVersion: currentVersion,
		LatestVersion:  release.TagName,
		HasUpdate:      isNewer(currentVersion, release.TagName),
	}
	if info.HasUpdate {
		target := AssetName(runtime.GOOS, runtime.GOARCH)
		for _, a := range release.Assets {
			if a.Name == target {
				info.AssetURL = a.BrowserDownloadURL
				break
			}
		}
	}
	return info, nil
}

// AssetName returns the expected release asset filename for the given OS/arch.
func AssetName(goos, goarch string) string {
	name := "advisor-" + goos + "-" + goarch
	if goos == "windows" {
		name += ".exe"
	}
	return name
}

// isNewer reports whether latest is a higher release than current. A current
// version that is not a release number ("dev", a commit hash, "") always
// counts as older. A latest tag that is not a release number never counts.
func isNewer(current, latest string) bool {
	lv, ok := parseSemver(latest)
	if !ok {
		return false
	}
	cv, ok := parseSemver(current)
	if !ok {
		return true
	}
	for i := range cv {
		if cv[i] != lv[i] {
			return cv[i] < lv[i]
		}
	}
	return false
}

// parseSemver reads "v1.2.3" or "1.2" into major/minor/patch, dropping any
// pre-release or build suffix. ok is false unless every part is a number.
func parseSemver(v string) (out [3]int, ok bool) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	if v == "" {
		return out, false
	}
	parts := strings.Split(v, ".")
	if len(parts) > 3 {
		return out, false
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return out, false
		}
		out[i] = n
	}
	return out, true
}
