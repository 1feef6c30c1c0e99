package deploy

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/distroget/internal/config"
	"github.com/oshokin/distroget/internal/logger"

	// Ensure SHA512 is linked for checksum calculation.
	_ "crypto/sha512"
)

// Target accepts completed files.
type Target interface {
	// IsAvailable reports whether uploads can be attempted.
	IsAvailable(ctx context.Context) bool
	// Upload hands the file at path to the target. The message is the
	// installed location on success and the failure reason otherwise.
	Upload(ctx context.Context, path, hint string) (bool, string)
}

// FileType is the storage content type of an artifact.
type FileType string

const (
	// FileTypeISO is a bootable image.
	FileTypeISO FileType = "iso"
	// FileTypeTemplate is a container template archive.
	FileTypeTemplate FileType = "vztmpl"
)

const (
	// DefaultFileMode is the mode of installed files.
	DefaultFileMode os.FileMode = 0o644

	// ChecksumFunction is used to verify installed files.
	ChecksumFunction crypto.Hash = crypto.SHA512

	dirPermissions = 0o755
)

var (
	errUnknownTarget    = errors.New("unknown deployment target")
	errHashUnavailable  = errors.New("hash function unavailable")
	errNotADirectory    = errors.New("storage path is not a directory")
	errSourceIsNotAFile = errors.New("source is not a regular file")
)

// templateSuffixes are the archive extensions treated as container templates.
//
//nolint:gochecknoglobals // Read-only lookup table.
var templateSuffixes = []string{".tar.gz", ".tar.xz", ".tar.zst"}

// DetectFileType classifies path by extension.
func DetectFileType(path string) FileType {
	name := strings.ToLower(filepath.Base(path))
	for _, suffix := range templateSuffixes {
		if strings.HasSuffix(name, suffix) {
			return FileTypeTemplate
		}
	}

	return FileTypeISO
}

// Subdir returns the storage subdirectory for the type.
func (t FileType) Subdir() string {
	if t == FileTypeTemplate {
		return filepath.Join("template", "cache")
	}

	return filepath.Join("template", "iso")
}

// NewTarget builds the target selected by cfg. It returns nil for "none".
func NewTarget(cfg config.Deploy) (Target, error) {
	switch cfg.Type {
	case "", config.DeployNone:
		return nil, nil //nolint:nilnil // No target is a valid configuration.
	case config.DeployLocal:
		return NewLocalTarget(cfg.StorageDir), nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownTarget, cfg.Type)
	}
}

// LocalTarget installs files into a directory tree on this machine.
type LocalTarget struct {
	// StorageDir is the storage root.
	StorageDir string
	// FileMode is the mode of installed files.
	FileMode os.FileMode
}

// NewLocalTarget returns a target rooted at storageDir.
func NewLocalTarget(storageDir string) *LocalTarget {
	return &LocalTarget{
		StorageDir: filepath.Clean(storageDir),
		FileMode:   DefaultFileMode,
	}
}

// IsAvailable reports whether the storage root exists and is a directory.
func (t *LocalTarget) IsAvailable(ctx context.Context) bool {
	info, err := os.Stat(t.StorageDir)
	if err != nil {
		logger.WarnKV(ctx, "Storage is unavailable", "path", t.StorageDir, "error", err)

		return false
	}

	if !info.IsDir() {
		logger.WarnKV(ctx, "Storage is unavailable", "path", t.StorageDir, "error", errNotADirectory)

		return false
	}

	return true
}

// Upload installs the file at path. hint may force the content type with
// "iso" or "vztmpl"; any other value is only logged.
func (t *LocalTarget) Upload(ctx context.Context, path, hint string) (bool, string) {
	installed, err := t.install(ctx, path, hint)
	if err != nil {
		logger.ErrorKV(ctx, "Deployment failed", "file", path, "error", err)

		return false, err.Error()
	}

	logger.InfoKV(ctx, "Deployed file", "file", filepath.Base(path), "target", installed, "hint", hint)

	return true, installed
}

func (t *LocalTarget) install(ctx context.Context, path, hint string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}

	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", errSourceIsNotAFile, path)
	}

	kind := FileType(strings.ToLower(strings.TrimSpace(hint)))
	if kind != FileTypeISO && kind != FileTypeTemplate {
		kind = DetectFileType(path)
	}

	dir := filepath.Join(t.StorageDir, kind.Subdir())
	if err = os.MkdirAll(dir, dirPermissions); err != nil {
		return "", fmt.Errorf("create storage directory: %w", err)
	}

	checksum, err := FileChecksum(path)
	if err != nil {
		return "", err
	}

	target := filepath.Join(dir, filepath.Base(path))

	// go-update renames the current target aside, so one must exist.
	if _, err = os.Stat(target); errors.Is(err, os.ErrNotExist) {
		placeholder, createErr := os.Create(target)
		if createErr != nil {
			return "", fmt.Errorf("create target: %w", createErr)
		}

		_ = placeholder.Close()
	}

	source, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}

	defer func() {
		_ = source.Close()
	}()

	mode := t.FileMode
	if mode == 0 {
		mode = DefaultFileMode
	}

	err = goupdate.Apply(source, goupdate.Options{
		TargetPath: target,
		TargetMode: mode,
		Checksum:   checksum,
		Hash:       ChecksumFunction,
	})
	if err != nil {
		return "", fmt.Errorf("install %s: %w", filepath.Base(path), err)
	}

	if _, err = os.Stat(target + ".old"); err == nil {
		_ = os.Remove(target + ".old")
	}

	return target, nil
}

// FileChecksum returns the ChecksumFunction digest of the file at path.
func FileChecksum(path string) ([]byte, error) {
	if !ChecksumFunction.Available() {
		return nil, fmt.Errorf("checksum calculation not possible: %w", errHashUnavailable)
	}

	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	defer func() {
		_ = file.Close()
	}()

	hasher := ChecksumFunction.New()
	if _, err = io.Copy(hasher, file); err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	return hasher.Sum(nil), nil
}
