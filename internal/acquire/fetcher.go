package acquire

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dhowden/tag"

	"github.com/carvidal/metrodl/api"
	"github.com/carvidal/metrodl/internal/logger"
	mderrors "github.com/carvidal/metrodl/pkg/errors"
)

// progressTemplate makes yt-dlp print one machine-readable line per
// progress tick: "metrodl:<downloaded>/<total>".
const progressTemplate = "download:metrodl:%(progress.downloaded_bytes)s/%(progress.total_bytes_estimate)s"

// Fetcher retrieves metadata and audio from a source URL by shelling
// out to yt-dlp.
type Fetcher struct {
	ytdlpPath string
}

// NewFetcher creates a Fetcher using the given yt-dlp binary.
func NewFetcher(ytdlpPath string) *Fetcher {
	return &Fetcher{ytdlpPath: ytdlpPath}
}

// FetchMetadata extracts title and thumbnail for a URL without
// downloading the media.
func (f *Fetcher) FetchMetadata(ctx context.Context, url string) (*api.MediaMetadata, error) {
	if strings.TrimSpace(url) == "" {
		return nil, mderrors.NewValidation("url", mderrors.ErrEmptyURL)
	}

	args := []string{"-J", "--no-playlist", "--quiet", url}
	cmd := exec.CommandContext(ctx, f.ytdlpPath, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &mderrors.AcquisitionError{
			Op:  "metadata",
			URL: url,
			Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())),
		}
	}

	var info struct {
		Title     string `json:"title"`
		Thumbnail string `json:"thumbnail"`
	}
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		return nil, &mderrors.AcquisitionError{Op: "metadata", URL: url, Err: err}
	}

	logger.Info("metadata fetched", logger.String("url", url), logger.String("title", info.Title))
	return &api.MediaMetadata{Title: info.Title, ThumbnailURL: info.Thumbnail}, nil
}

// FetchAudio downloads the best available audio stream as mp3 into
// targetPath. Progress is reported to onProgress as 0-100 integers.
// Acquisition is all-or-nothing: a missing or zero-byte result is an
// AcquisitionError.
func (f *Fetcher) FetchAudio(ctx context.Context, url, targetPath string, onProgress func(int)) (*api.AudioAsset, error) {
	if strings.TrimSpace(url) == "" {
		return nil, mderrors.NewValidation("url", mderrors.ErrEmptyURL)
	}

	args := []string{
		"-f", "bestaudio/best",
		"-x", "--audio-format", "mp3",
		"--audio-quality", "192K",
		"--no-playlist",
		"--newline",
		"--progress-template", progressTemplate,
		"-o", targetPath,
		url,
	}

	cmd := exec.CommandContext(ctx, f.ytdlpPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &mderrors.AcquisitionError{Op: "download", URL: url, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &mderrors.AcquisitionError{Op: "download", URL: url, Err: err}
	}

	consumeProgress(stdout, onProgress)

	if err := cmd.Wait(); err != nil {
		return nil, &mderrors.AcquisitionError{
			Op:  "download",
			URL: url,
			Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())),
		}
	}

	resolved, err := resolveOutput(targetPath)
	if err != nil {
		return nil, &mderrors.AcquisitionError{Op: "download", URL: url, Err: err}
	}

	fi, err := os.Stat(resolved)
	if err != nil {
		return nil, &mderrors.AcquisitionError{Op: "download", URL: url, Err: err}
	}
	if fi.Size() == 0 {
		return nil, &mderrors.AcquisitionError{Op: "download", URL: url, Err: mderrors.ErrEmptyDownload}
	}

	logger.Info("audio downloaded",
		logger.String("path", resolved),
		logger.Int("bytes", int(fi.Size())))

	if onProgress != nil {
		onProgress(100)
	}
	return &api.AudioAsset{Path: resolved}, nil
}

// DownloadClean downloads the untouched best-audio stream into destDir
// as "<title>_clean.<ext>" and returns the written path.
func (f *Fetcher) DownloadClean(ctx context.Context, url, destDir, title string) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", mderrors.NewValidation("url", mderrors.ErrEmptyURL)
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", &mderrors.AcquisitionError{Op: "copy", URL: url, Err: err}
	}

	outTemplate := filepath.Join(destDir, title+"_clean.%(ext)s")
	args := []string{
		"-f", "bestaudio/best",
		"--no-playlist",
		"-o", outTemplate,
		url,
	}

	cmd := exec.CommandContext(ctx, f.ytdlpPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", &mderrors.AcquisitionError{
			Op:  "copy",
			URL: url,
			Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())),
		}
	}

	matches, err := filepath.Glob(filepath.Join(destDir, title+"_clean.*"))
	if err != nil || len(matches) == 0 {
		return "", &mderrors.AcquisitionError{Op: "copy", URL: url, Err: fmt.Errorf("output file not found in %s", destDir)}
	}
	return matches[0], nil
}

// consumeProgress reads yt-dlp stdout line by line and forwards parsed
// percentages. Malformed lines are skipped; percentages never go
// backwards.
func consumeProgress(r io.Reader, onProgress func(int)) {
	scanner := bufio.NewScanner(r)
	last := -1
	for scanner.Scan() {
		if pct, ok := ParseProgressLine(scanner.Text()); ok && pct > last {
			last = pct
			if onProgress != nil {
				onProgress(pct)
			}
		}
	}
}

// ParseProgressLine parses one "metrodl:<downloaded>/<total>" progress
// line into a 0-100 percentage.
func ParseProgressLine(line string) (int, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "metrodl:") {
		return 0, false
	}
	parts := strings.SplitN(strings.TrimPrefix(line, "metrodl:"), "/", 2)
	if len(parts) != 2 {
		return 0, false
	}
	downloaded, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, false
	}
	total, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || total <= 0 {
		return 0, false
	}
	pct := int(downloaded / total * 100)
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, true
}

// resolveOutput handles upstream naming variance: if the expected file
// is missing but a sibling with the same base and a different extension
// exists, it is renamed into place.
func resolveOutput(targetPath string) (string, error) {
	if _, err := os.Stat(targetPath); err == nil {
		return targetPath, nil
	}

	base := strings.TrimSuffix(targetPath, filepath.Ext(targetPath))
	matches, err := filepath.Glob(base + ".*")
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no audio file found at %s", targetPath)
	}

	logger.Warn("output extension mismatch, renaming",
		logger.String("found", matches[0]),
		logger.String("expected", targetPath))

	if err := os.Rename(matches[0], targetPath); err != nil {
		return "", err
	}
	return targetPath, nil
}

// TitleFromTags reads the embedded title tag from an audio file. Used
// as a fallback when the service metadata carries no title. Returns ""
// when the file has no readable tags.
func TitleFromTags(path string) string {
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()

	metadata, err := tag.ReadFrom(file)
	if err != nil {
		return ""
	}
	return metadata.Title()
}
