package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExitCodesAreDistinct(t *testing.T) {
	codes := map[int]Kind{}
	for _, k := range []Kind{KindUsage, KindBaselineNotFound, KindIO, KindInvariant} {
		code := ExitCode(Wrap(errors.New("x"), k, "X"))
		prev, seen := codes[code]
		require.False(t, seen, "kind %s reuses exit code %d of %s", k, code, prev)
		require.NotEqual(t, ExitPass, code)
		require.NotEqual(t, ExitFail, code)
		codes[code] = k
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	base := IO(errors.New("disk gone"), "READ_MANIFEST")
	wrapped := fmt.Errorf("reading run: %w", base)

	require.Equal(t, KindIO, KindOf(wrapped))
	require.Equal(t, "READ_MANIFEST", CodeOf(wrapped))
	require.Equal(t, ExitIO, ExitCode(wrapped))
	require.True(t, Is(wrapped, KindIO))
	require.False(t, Is(wrapped, KindUsage))
}

func TestWrapNil(t *testing.T) {
	require.NoError(t, Wrap(nil, KindIO, "X"))
	require.Equal(t, ExitPass, ExitCode(nil))
}

func TestUnclassifiedErrorNeverPasses(t *testing.T) {
	require.Equal(t, ExitIO, ExitCode(errors.New("mystery")))
}

func TestRecoverInvariant(t *testing.T) {
	run := func() (err error) {
		defer Recover(&err)
		Violate("classification_closed", "level %q", "INCIDENT")
		return nil
	}
	err := run()
	require.Error(t, err)
	require.Equal(t, KindInvariant, KindOf(err))
	require.Equal(t, ExitInvariant, ExitCode(err))
	require.Equal(t, "classification_closed", CodeOf(err))
}

func TestRecoverRepanicsForeignValues(t *testing.T) {
	require.PanicsWithValue(t, "boom", func() {
		var err error
		defer Recover(&err)
		panic("boom")
	})
}
