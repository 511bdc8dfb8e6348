package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func withBuild(t *testing.T, v, c, d string) {
	t.Helper()
	oldV, oldC, oldD := version, commit, date
	version, commit, date = v, c, d
	t.Cleanup(func() { version, commit, date = oldV, oldC, oldD })
}

func TestCurrent_Defaults(t *testing.T) {
	b := Current()
	assert.NotEmpty(t, b.Version)
	assert.NotEmpty(t, b.Commit)
	assert.NotEmpty(t, b.Date)
	assert.Equal(t, GetVersion(), b.Version)
}

func TestBuild_LinkerValues(t *testing.T) {
	withBuild(t, "1.4.0", "a1b2c3d", "2026-03-01")

	b := Current()
	assert.Equal(t, "checkout-service version=1.4.0 commit=a1b2c3d date=2026-03-01", b.String())
	assert.Equal(t, map[string]any{"version": "1.4.0", "commit": "a1b2c3d", "build_date": "2026-03-01"}, b.Fields())
	assert.Equal(t, "checkout-service/1.4.0", UserAgent())
}
