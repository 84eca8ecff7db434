package form

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	fileutil "gatotkota/internal/file"

	"github.com/google/uuid"
)

// SubmissionStore persists submission manifests.
// The default implementation writes JSON files under dataDir.
type SubmissionStore interface {
	SaveSubmission(ctx context.Context, s *Submission) error
	LoadSubmission(ctx context.Context, id string) (*Submission, error)
}

type fileStore struct {
	dataDir string
}

func NewFileStore(dataDir string) SubmissionStore { //nolint:ireturn
	if dataDir == "" {
		dataDir = "data"
	}
	return &fileStore{dataDir: dataDir}
}

func (s *fileStore) path(id string) string {
	return filepath.Join(s.dataDir, "submissions", id+".json")
}

func (s *fileStore) SaveSubmission(_ context.Context, sub *Submission) error {
	return fileutil.WriteJSONAtomic(s.path(sub.ID), sub) //nolint:wrapcheck
}

func (s *fileStore) LoadSubmission(_ context.Context, id string) (*Submission, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrSubmissionNotFound
	}
	var sub Submission
	if err := fileutil.ReadJSON(s.path(id), &sub); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("load submission: %w", err)
	}
	return &sub, nil
}
