// Package postprocess_test tests the exec-based audio mastering step.
package postprocess_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/voice-clone-service/internal/postprocess"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "postprocess-test.log")
	require.NoError(t, err)

	return testLogger
}

// fakeFFmpeg writes a shell script that copies the -i input to the final
// argument, standing in for the real binary.
func fakeFFmpeg(t *testing.T, script string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ffmpeg")
	err := os.WriteFile(path, []byte(script), 0o700)
	require.NoError(t, err)

	return path
}

const copyScript = `#!/bin/sh
in=""
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-i" ]; then in="$a"; fi
  prev="$a"
  out="$a"
done
cp "$in" "$out"
`

func TestProcessRunsFilterChain(t *testing.T) {
	t.Parallel()

	processor := postprocess.New(
		fakeFFmpeg(t, copyScript),
		5*time.Second,
		newTestLogger(t),
	)

	input := []byte("wav payload to master")

	output, err := processor.Process(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, input, output)
}

func TestProcessReportsBinaryFailure(t *testing.T) {
	t.Parallel()

	processor := postprocess.New(
		fakeFFmpeg(t, "#!/bin/sh\necho 'Invalid data found' >&2\nexit 1\n"),
		5*time.Second,
		newTestLogger(t),
	)

	_, err := processor.Process(context.Background(), []byte("payload"))
	require.ErrorIs(t, err, postprocess.ErrProcessingFailed)
}

func TestProcessRejectsEmptyOutput(t *testing.T) {
	t.Parallel()

	processor := postprocess.New(
		fakeFFmpeg(t, "#!/bin/sh\nexit 0\n"),
		5*time.Second,
		newTestLogger(t),
	)

	_, err := processor.Process(context.Background(), []byte("payload"))
	require.ErrorIs(t, err, postprocess.ErrProcessingFailed)
}
