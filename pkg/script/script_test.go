package script

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stringSource adapts a strings.Reader to the Source interface.
type stringSource struct{ *strings.Reader }

func newSource(s string) *stringSource {
	return &stringSource{strings.NewReader(s)}
}

type recordingDispatcher struct {
	calls []string
}

func (d *recordingDispatcher) Dispatch(line string) error {
	d.calls = append(d.calls, line)
	return nil
}

func TestRunSkipsCommentsAndBlankLines(t *testing.T) {
	d := &recordingDispatcher{}
	r := NewRunner(d, logrus.New())
	err := r.Run("boot.cmd", newSource("# a comment\n\nset X 1\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"set X 1"}, d.calls)
}

func TestRunExitStopsScript(t *testing.T) {
	d := &recordingDispatcher{}
	r := NewRunner(d, logrus.New())
	err := r.Run("boot.cmd", newSource("set X 1\nexit\nset Y 2\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"set X 1"}, d.calls)
}

func TestIgnoreErrorPrefixStillDispatches(t *testing.T) {
	d := &recordingDispatcher{}
	r := NewRunner(d, logrus.New())
	err := r.Run("boot.cmd", newSource("-false_command\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"false_command"}, d.calls)
}
