package blob

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sequelacore/internal/blob/core"
	"sequelacore/internal/config"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()

	mem, err := Open(ctx, config.BlobConfig{Driver: config.BlobMemory})
	require.NoError(t, err)
	assert.Equal(t, core.DriverMemory, mem.Driver())

	fs, err := Open(ctx, config.BlobConfig{Driver: config.BlobFS, FSRoot: filepath.Join(t.TempDir(), "out")})
	require.NoError(t, err)
	assert.Equal(t, core.DriverFilesystem, fs.Driver())

	t.Setenv("AWS_ACCESS_KEY_ID", "AKIATEST")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	s3, err := Open(ctx, config.BlobConfig{Driver: config.BlobS3, S3: config.S3Config{Bucket: "b", Region: "us-east-1"}})
	require.NoError(t, err)
	assert.Equal(t, core.DriverS3, s3.Driver())

	_, err = Open(ctx, config.BlobConfig{Driver: config.BlobS3})
	require.Error(t, err)
	_, err = Open(ctx, config.BlobConfig{Driver: "ftp"})
	require.Error(t, err)
}
