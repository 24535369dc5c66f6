package drive

import (
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// FileSource lists and downloads feed files. *Service is the Google Drive
// implementation.
type FileSource interface {
	ListFiles(ctx context.Context, folderID string) ([]*File, error)
	DownloadFile(ctx context.Context, fileID string, w io.Writer) error
}

type Service struct {
	srv *drive.Service
}

func NewService(ctx context.Context, credentialsJSON []byte) (*Service, error) {
	config, err := google.JWTConfigFromJSON(credentialsJSON, drive.DriveReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse drive service account: %w", err)
	}

	srv, err := drive.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("create drive client: %w", err)
	}

	return &Service{srv: srv}, nil
}

type File struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MimeType     string `json:"mimeType"`
	ModifiedTime string `json:"modifiedTime,omitempty"`
	Size         int64  `json:"size,string,omitempty"`
}

// Version identifies one revision of the file.
func (f *File) Version() string {
	return f.ID + "@" + f.ModifiedTime
}

const (
	folderMimeType = "application/vnd.google-apps.folder"
	listFileFields = "nextPageToken, files(id, name, mimeType, modifiedTime, size)"
)

// childrenQuery builds a Drive search over the live children of parent.
// Extra clauses are ANDed.
func childrenQuery(parent string, clauses ...string) string {
	parts := append([]string{quoteQuery(parent) + " in parents", "trashed=false"}, clauses...)
	return strings.Join(parts, " and ")
}

func quoteQuery(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return "'" + strings.ReplaceAll(v, "'", `\'`) + "'"
}

func fileFromDrive(f *drive.File) *File {
	return &File{
		ID:           f.Id,
		Name:         f.Name,
		MimeType:     f.MimeType,
		ModifiedTime: f.ModifiedTime,
		Size:         f.Size,
	}
}

// ListFiles returns the non-folder children of folderID, oldest change
// first. An empty folderID lists the Drive root.
func (s *Service) ListFiles(ctx context.Context, folderID string) ([]*File, error) {
	if folderID == "" {
		folderID = "root"
	}

	var files []*File
	err := s.srv.Files.List().
		Q(childrenQuery(folderID, "mimeType!="+quoteQuery(folderMimeType))).
		Fields(listFileFields).
		OrderBy("modifiedTime").
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				files = append(files, fileFromDrive(f))
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("list drive folder %s: %w", folderID, err)
	}
	return files, nil
}

func (s *Service) DownloadFile(ctx context.Context, fileID string, w io.Writer) error {
	resp, err := s.srv.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return fmt.Errorf("download drive file %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("read drive file %s: %w", fileID, err)
	}
	return nil
}

// FindFolderByPath resolves a slash-separated folder path from the Drive root.
func (s *Service) FindFolderByPath(ctx context.Context, path string) (string, error) {
	currentID := "root"

	for _, name := range strings.Split(path, "/") {
		if name == "" {
			continue
		}

		q := childrenQuery(currentID,
			"name="+quoteQuery(name),
			"mimeType="+quoteQuery(folderMimeType),
		)
		result, err := s.srv.Files.List().Q(q).Fields("files(id)").PageSize(1).Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("look up drive folder %q: %w", name, err)
		}
		if len(result.Files) == 0 {
			return "", fmt.Errorf("drive folder %q not found under %s", name, currentID)
		}
		currentID = result.Files[0].Id
	}

	return currentID, nil
}
