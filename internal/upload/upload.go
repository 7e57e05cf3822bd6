// Package upload ships a run's batch files to the ingest endpoint. Files go
// up one at a time; a final done marker tells the receiver the run is
// complete and safe to process.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gitscope/agent/internal/extract/httpclient"
	"github.com/gitscope/agent/internal/logger"
)

// Uploader POSTs batch files to an ingest endpoint.
type Uploader struct {
	http     *httpclient.Client
	endpoint string
}

// New creates an Uploader for the given endpoint, authenticating with the
// API token.
func New(endpoint, token string) *Uploader {
	h := httpclient.New(httpclient.WithAuthenticator(&httpclient.TokenAuth{Scheme: "Bearer", Token: token}))
	return newUploader(h, endpoint)
}

// newUploader wires a pre-built HTTP client, for tests.
func newUploader(h *httpclient.Client, endpoint string) *Uploader {
	return &Uploader{http: h, endpoint: strings.TrimRight(endpoint, "/")}
}

// UploadDir uploads every batch file under dir for the given run, then posts
// the done marker. Files upload in name order so receivers see a
// deterministic sequence.
func (u *Uploader) UploadDir(ctx context.Context, runID, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("upload: read dir %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".json.gz") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return fmt.Errorf("upload: no batch files in %s", dir)
	}

	for _, name := range names {
		if err := u.uploadFile(ctx, runID, filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	if err := u.markDone(ctx, runID); err != nil {
		return err
	}
	logger.Info("upload: run %s: shipped %d files", runID, len(names))
	return nil
}

func (u *Uploader) uploadFile(ctx context.Context, runID, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("upload: read %s: %w", path, err)
	}

	name := filepath.Base(path)
	url := fmt.Sprintf("%s/runs/%s/files/%s", u.endpoint, runID, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("upload: build request for %s: %w", name, err)
	}
	if strings.HasSuffix(name, ".gz") {
		req.Header.Set("Content-Type", "application/gzip")
	} else {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := u.http.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("upload: %s: %w", name, err)
	}
	_ = resp.Body.Close()
	logger.Debug("upload: run %s: sent %s (%d bytes)", runID, name, len(data))
	return nil
}

// markDone posts the completion marker for the run.
func (u *Uploader) markDone(ctx context.Context, runID string) error {
	url := fmt.Sprintf("%s/runs/%s/done", u.endpoint, runID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("upload: build done request: %w", err)
	}

	resp, err := u.http.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("upload: mark done: %w", err)
	}
	_ = resp.Body.Close()
	return nil
}
