package launcher

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanLines(t *testing.T) {
	input := "one\ntwo\r\nthree\r 10%|#\r 20%|##\rlast"
	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Split(ScanLines)

	var got []string
	for scanner.Scan() {
		got = append(got, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{"one", "two", "three", " 10%|#", " 20%|##", "last"}, got)
}

func TestExecRunnerStreams(t *testing.T) {
	var lines []string
	res, err := ExecRunner{}.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", `printf 'out\n'; printf 'err\n' >&2; printf ' 50%%|###\r100%%|######\n'`},
	}, func(s string) { lines = append(lines, s) })

	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.ElementsMatch(t, []string{"out", "err", " 50%|###", "100%|######"}, lines)
	assert.Equal(t, 4, res.Lines)
}

func TestExecRunnerSplitsOversizedLines(t *testing.T) {
	var lines []string
	res, err := ExecRunner{}.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", `head -c 2000000 /dev/zero | tr '\000' x; printf '\nExtracting mesh ...\ndone\n'`},
	}, func(s string) { lines = append(lines, s) })

	require.NoError(t, err)
	require.GreaterOrEqual(t, len(lines), 3)
	assert.Equal(t, []string{"Extracting mesh ...", "done"}, lines[len(lines)-2:])

	total := 0
	for _, l := range lines[:len(lines)-2] {
		assert.LessOrEqual(t, len(l), maxLine)
		assert.Equal(t, strings.Repeat("x", len(l)), l)
		total += len(l)
	}
	assert.Equal(t, 2000000, total)
	assert.Equal(t, len(lines), res.Lines)
}

func TestSplitLong(t *testing.T) {
	split := splitLong(ScanLines, 4)

	advance, token, err := split([]byte("abcdefg"), false)
	require.NoError(t, err)
	assert.Equal(t, 4, advance)
	assert.Equal(t, "abcd", string(token))

	advance, token, err = split([]byte("ab\ncdefg"), false)
	require.NoError(t, err)
	assert.Equal(t, 3, advance)
	assert.Equal(t, "ab", string(token))

	advance, token, err = split([]byte("abc"), false)
	require.NoError(t, err)
	assert.Zero(t, advance)
	assert.Nil(t, token)
}

func TestExecRunnerPassthrough(t *testing.T) {
	var stdout bytes.Buffer
	_, err := ExecRunner{}.Run(context.Background(), Command{
		Name:   "sh",
		Args:   []string{"-c", "echo $MESHGEN_TEST_VALUE"},
		Env:    []string{"MESHGEN_TEST_VALUE=hello"},
		Stdout: &stdout,
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "hello\n", stdout.String())
}

func TestExecRunnerExitCode(t *testing.T) {
	res, err := ExecRunner{}.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "exit 7"},
	}, func(string) {})

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 7, exitErr.Code)
	assert.Equal(t, 7, res.ExitCode)
}

func TestExecRunnerStartFailure(t *testing.T) {
	res, err := ExecRunner{}.Run(context.Background(), Command{Name: "/nonexistent/meshgen-tool"}, nil)
	require.Error(t, err)
	assert.Equal(t, -1, res.ExitCode)
}

func TestExecRunnerCancelKillsGroup(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := ExecRunner{}.Run(ctx, Command{
		Name: "sh",
		Args: []string{"-c", "sleep 30 & sleep 30; wait"},
	}, func(string) {})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestCommandString(t *testing.T) {
	c := Command{Name: "python", Args: []string{"run.py", "--image", "my chair.png"}}
	assert.Equal(t, `python run.py --image "my chair.png"`, c.String())
}
