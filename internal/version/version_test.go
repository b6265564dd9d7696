package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCurrent_Defaults(t *testing.T) {
	b := Current()
	require.Equal(t, GetVersion(), b.Version)
	require.NotEmpty(t, b.Commit)
	require.NotEmpty(t, b.Date)
}

func TestBuild_Formatting(t *testing.T) {
	b := Build{Version: "v1.4.0", Commit: "3f2a9c1", Date: "2026-10-01"}

	require.Equal(t, "version=v1.4.0 commit=3f2a9c1 date=2026-10-01", b.String())
	require.Equal(t, "3f2a9c1", b.LogFields()["commit"])
	require.Equal(t, "2026-10-01", b.LogFields()["build_date"])
}
