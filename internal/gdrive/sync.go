// Package gdrive exports archived interview transcripts to a Google Drive
// folder as Google Docs.
package gdrive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const docMimeType = "application/vnd.google-apps.document"

type Exporter struct {
	service  *drive.Service
	folderID string
	fileIDs  map[string]string
	mu       sync.Mutex
}

func NewExporter(ctx context.Context, credPath, folderID string) (*Exporter, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	return NewExporterWithOptions(ctx, folderID, option.WithCredentials(config))
}

// NewExporterWithOptions builds an exporter from explicit client options.
func NewExporterWithOptions(ctx context.Context, folderID string, opts ...option.ClientOption) (*Exporter, error) {
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return &Exporter{
		service:  svc,
		folderID: folderID,
		fileIDs:  make(map[string]string),
	}, nil
}

// Upload creates a document for localPath, or replaces its content if this
// exporter uploaded the same file before.
func (e *Exporter) Upload(ctx context.Context, localPath string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	key := strings.TrimSuffix(filepath.Base(localPath), filepath.Ext(localPath))

	if fileID, ok := e.fileIDs[key]; ok {
		if _, err := e.service.Files.Update(fileID, &drive.File{}).Media(f).Context(ctx).Do(); err != nil {
			return fmt.Errorf("drive update %s: %w", key, err)
		}
		return nil
	}

	file := &drive.File{
		Name:     "mock-interview-" + key,
		MimeType: docMimeType,
	}
	if e.folderID != "" {
		file.Parents = []string{e.folderID}
	}
	doc, err := e.service.Files.Create(file).Media(f).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("drive create %s: %w", key, err)
	}

	e.fileIDs[key] = doc.Id
	return nil
}
