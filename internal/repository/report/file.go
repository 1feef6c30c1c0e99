package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/distroget/internal/config"
	"github.com/oshokin/distroget/internal/domain/release"
)

// Repository defines persistence operations for run reports.
type Repository interface {
	Load(ctx context.Context) (*release.Report, error)
	Save(ctx context.Context, report *release.Report) error
}

// FileRepository persists the last run report to a JSON file on disk.
type FileRepository struct {
	// path is the filesystem location of the JSON report file.
	path string
	// mu protects concurrent access to the report file.
	mu sync.Mutex
}

var (
	// ErrNotFound is returned when no report was saved yet.
	ErrNotFound = errors.New("report not found")

	errReportIsNotSet = errors.New("report is not set")
)

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Path returns the report file location.
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads the report from disk.
func (r *FileRepository) Load(_ context.Context) (*release.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read report file: %w", err)
	}

	var protoReport structpb.Struct
	if err = protojson.Unmarshal(contents, &protoReport); err != nil {
		return nil, fmt.Errorf("decode report file: %w", err)
	}

	report, err := release.ReportFromFields(protoReport.AsMap())
	if err != nil {
		return nil, fmt.Errorf("decode report file: %w", err)
	}

	return report, nil
}

// Save writes the report to disk, replacing the previous one.
func (r *FileRepository) Save(_ context.Context, report *release.Report) error {
	if report == nil {
		return errReportIsNotSet
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	protoReport, err := ToProto(report)
	if err != nil {
		return err
	}

	marshalOptions := protojson.MarshalOptions{
		Multiline:       true,
		EmitUnpopulated: true,
	}

	data, err := marshalOptions.Marshal(protoReport)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	if dir := filepath.Dir(r.path); dir != "." {
		if err = os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}

	tmp := r.path + ".tmp"
	if err = os.WriteFile(tmp, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write report file: %w", err)
	}

	if err = os.Rename(tmp, r.path); err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("replace report file: %w", err)
	}

	return nil
}

// ToProto converts a report into the struct served over the status API.
func ToProto(report *release.Report) (*structpb.Struct, error) {
	protoReport, err := structpb.NewStruct(report.Fields())
	if err != nil {
		return nil, fmt.Errorf("convert report: %w", err)
	}

	return protoReport, nil
}
