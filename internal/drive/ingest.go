package drive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/supplybalance/internal/feed"
	"github.com/andresuchdata/supplybalance/internal/ledger"
)

// FileReport is the outcome of ingesting one feed file
type FileReport struct {
	File    string      `json:"file"`
	Skipped bool        `json:"skipped"`
	Result  feed.Result `json:"result"`
	Error   string      `json:"error,omitempty"`
}

// SyncReport is the outcome of one folder sync
type SyncReport struct {
	FolderID string       `json:"folder_id"`
	Files    []FileReport `json:"files"`
}

// IngestService loads CSV and XLSX event files from a folder into the
// ledger. A file revision already ingested is skipped; re-ingesting a file
// appends nothing because row IDs are derived from the file and row.
type IngestService struct {
	source      FileSource
	ledger      ledger.Ledger
	downloadDir string

	mu   sync.Mutex // one sync at a time
	seen map[string]struct{}
}

func NewIngestService(source FileSource, l ledger.Ledger, downloadDir string) *IngestService {
	return &IngestService{
		source:      source,
		ledger:      l,
		downloadDir: downloadDir,
		seen:        make(map[string]struct{}),
	}
}

// SyncFolder ingests every new CSV or XLSX file revision in folderID. A file
// that fails is reported and retried on the next sync.
func (s *IngestService) SyncFolder(ctx context.Context, folderID string) (*SyncReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.source.ListFiles(ctx, folderID)
	if err != nil {
		return nil, err
	}

	report := &SyncReport{FolderID: folderID, Files: []FileReport{}}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		ext := strings.ToLower(filepath.Ext(f.Name))
		if ext != ".csv" && ext != ".xlsx" {
			continue
		}
		if _, ok := s.seen[f.Version()]; ok {
			report.Files = append(report.Files, FileReport{File: f.Name, Skipped: true})
			continue
		}

		res, err := s.IngestFile(ctx, f)
		fr := FileReport{File: f.Name, Result: res}
		if err != nil {
			fr.Error = err.Error()
			log.Error().Err(err).Str("file", f.Name).Msg("drive: ingest failed")
		} else {
			s.seen[f.Version()] = struct{}{}
			log.Info().
				Str("file", f.Name).
				Int("appended", res.Appended).
				Int("duplicates", res.Duplicates).
				Msg("drive: file ingested")
		}
		report.Files = append(report.Files, fr)
	}

	return report, nil
}

// IngestFile downloads one file, converts XLSX to CSV and loads its events.
func (s *IngestService) IngestFile(ctx context.Context, f *File) (feed.Result, error) {
	var raw bytes.Buffer
	if err := s.source.DownloadFile(ctx, f.ID, &raw); err != nil {
		return feed.Result{}, fmt.Errorf("failed to download %s: %w", f.Name, err)
	}
	s.keepCopy(f, raw.Bytes())

	csvData := &raw
	if strings.EqualFold(filepath.Ext(f.Name), ".xlsx") {
		csvData = &bytes.Buffer{}
		if err := feed.XLSXToCSV(bytes.NewReader(raw.Bytes()), csvData); err != nil {
			return feed.Result{}, fmt.Errorf("failed to convert %s to csv: %w", f.Name, err)
		}
	}

	events, err := feed.ParseEvents(csvData, f.ID)
	if err != nil {
		return feed.Result{}, fmt.Errorf("failed to parse %s: %w", f.Name, err)
	}

	return feed.LoadEvents(ctx, s.ledger, events, feed.DefaultBatchSize, nil)
}

// keepCopy stores the downloaded file for auditing; failures only warn.
func (s *IngestService) keepCopy(f *File, data []byte) {
	if s.downloadDir == "" {
		return
	}
	if err := os.MkdirAll(s.downloadDir, 0755); err != nil {
		log.Warn().Err(err).Msg("drive: failed to create download dir")
		return
	}
	path := filepath.Join(s.downloadDir, filepath.Base(f.Name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("drive: failed to keep downloaded copy")
	}
}
