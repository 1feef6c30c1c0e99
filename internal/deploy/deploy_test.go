package deploy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/distroget/internal/config"
)

// TestDetectFileType checks extension based classification.
func TestDetectFileType(t *testing.T) {
	t.Parallel()

	tests := map[string]FileType{
		"Fedora-Workstation-Live-42.iso":          FileTypeISO,
		"debian-12-standard_12.7-1_amd64.tar.zst": FileTypeTemplate,
		"ubuntu-24.04-standard.TAR.GZ":            FileTypeTemplate,
		"alpine.tar.xz":                           FileTypeTemplate,
		"image.img":                               FileTypeISO,
	}

	for name, expected := range tests {
		require.Equal(t, expected, DetectFileType(name), name)
	}

	require.Equal(t, filepath.Join("template", "iso"), FileTypeISO.Subdir())
	require.Equal(t, filepath.Join("template", "cache"), FileTypeTemplate.Subdir())
}

// TestNewTarget checks target selection from configuration.
func TestNewTarget(t *testing.T) {
	t.Parallel()

	target, err := NewTarget(config.Deploy{Type: config.DeployNone})
	require.NoError(t, err)
	require.Nil(t, target)

	target, err = NewTarget(config.Deploy{Type: config.DeployLocal, StorageDir: "/var/lib/vz"})
	require.NoError(t, err)
	require.IsType(t, &LocalTarget{}, target)

	_, err = NewTarget(config.Deploy{Type: "scp"})
	require.Error(t, err)
}

// TestLocalTargetUpload installs new and existing files into the storage tree.
func TestLocalTargetUpload(t *testing.T) {
	t.Parallel()

	var (
		ctx     = context.Background()
		storage = t.TempDir()
		staging = t.TempDir()
		target  = NewLocalTarget(storage)
	)

	require.True(t, target.IsAvailable(ctx))

	iso := filepath.Join(staging, "ubuntu-24.04.1-desktop-amd64.iso")
	require.NoError(t, os.WriteFile(iso, []byte("first"), 0o600))

	ok, message := target.Upload(ctx, iso, "Ubuntu/24.04")
	require.True(t, ok, message)
	require.Equal(t, filepath.Join(storage, "template", "iso", "ubuntu-24.04.1-desktop-amd64.iso"), message)

	contents, err := os.ReadFile(message)
	require.NoError(t, err)
	require.Equal(t, "first", string(contents))

	// Replacing an existing file leaves no backup behind.
	require.NoError(t, os.WriteFile(iso, []byte("second"), 0o600))

	ok, message = target.Upload(ctx, iso, "")
	require.True(t, ok, message)

	contents, err = os.ReadFile(message)
	require.NoError(t, err)
	require.Equal(t, "second", string(contents))

	_, err = os.Stat(message + ".old")
	require.ErrorIs(t, err, os.ErrNotExist)

	// The hint can force the content type.
	ok, message = target.Upload(ctx, iso, "vztmpl")
	require.True(t, ok, message)
	require.Equal(t, filepath.Join(storage, "template", "cache", "ubuntu-24.04.1-desktop-amd64.iso"), message)
}

// TestLocalTargetFailures checks unavailable storage and missing sources.
func TestLocalTargetFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	missing := NewLocalTarget(filepath.Join(t.TempDir(), "absent"))
	require.False(t, missing.IsAvailable(ctx))

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	require.False(t, NewLocalTarget(file).IsAvailable(ctx))

	ok, message := NewLocalTarget(t.TempDir()).Upload(ctx, filepath.Join(t.TempDir(), "nope.iso"), "")
	require.False(t, ok)
	require.NotEmpty(t, message)
}
