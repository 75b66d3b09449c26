package sandbox

import (
	"bytes"
	"testing"

	"github.com/docker/docker/pkg/stdcopy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadExecOutputDemultiplexes(t *testing.T) {
	// A non-TTY exec attach carries both streams on one connection, each
	// chunk prefixed with an 8-byte frame header.
	var stream bytes.Buffer
	stdout := stdcopy.NewStdWriter(&stream, stdcopy.Stdout)
	stderr := stdcopy.NewStdWriter(&stream, stdcopy.Stderr)

	_, err := stdout.Write([]byte("installing dependencies\n"))
	require.NoError(t, err)
	_, err = stderr.Write([]byte("warning: peer dependency\n"))
	require.NoError(t, err)
	_, err = stdout.Write([]byte("done\n"))
	require.NoError(t, err)

	out, err := readExecOutput(&stream)
	require.NoError(t, err)
	assert.Equal(t, "installing dependencies\ndone\nwarning: peer dependency\n", out)
	assert.NotContains(t, out, "\x00", "frame headers must not leak into the output")
}

func TestReadExecOutputEmptyStream(t *testing.T) {
	out, err := readExecOutput(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Empty(t, out)
}
