package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectIsolatesFacetErrors(t *testing.T) {
	c := NewCollector(time.Second,
		FacetFunc("ok", func(context.Context) (any, error) { return "fine", nil }),
		FacetFunc("broken", func(context.Context) (any, error) { return nil, errors.New("sensor offline") }),
		FacetFunc("panicky", func(context.Context) (any, error) { panic("boom") }),
	)

	report := c.Collect(context.Background())

	assert.Equal(t, map[string]any{"ok": "fine"}, report.Facets)
	assert.Equal(t, "sensor offline", report.Errors["broken"])
	assert.Contains(t, report.Errors["panicky"], "panicked")
}

func TestCollectBoundsSlowFacets(t *testing.T) {
	c := NewCollector(20*time.Millisecond,
		FacetFunc("slow", func(ctx context.Context) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
		FacetFunc("fast", func(context.Context) (any, error) { return 1, nil }),
	)

	start := time.Now()
	report := c.Collect(context.Background())

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, report.Facets["fast"])
	assert.Contains(t, report.Errors, "slow")
}

func TestCollectWithoutErrorsOmitsErrorMap(t *testing.T) {
	c := NewCollector(0, FacetFunc("ok", func(context.Context) (any, error) { return true, nil }))
	assert.Nil(t, c.Collect(context.Background()).Errors)
}

func TestVersionFacet(t *testing.T) {
	run := func(_ context.Context, dir, name string, args ...string) (string, error) {
		assert.Equal(t, "/opt/kiosk", dir)
		assert.Equal(t, "git", name)
		assert.Equal(t, []string{"rev-parse", "--short", "HEAD"}, args)
		return "1a2b3c4\n", nil
	}

	v, err := Version("/opt/kiosk", run).Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1a2b3c4", v)
}

func TestParseMeasureTemp(t *testing.T) {
	v, err := parseMeasureTemp("temp=48.3'C\n")
	require.NoError(t, err)
	assert.Equal(t, 48.3, v)

	_, err = parseMeasureTemp("VCHI initialization failed")
	assert.Error(t, err)
}

func TestParseTeamViewerID(t *testing.T) {
	out := "TeamViewer                           15.2.2756\n" +
		"  TeamViewer ID:      \x1b[0m 1234567890\n"
	id, err := parseTeamViewerID(out)
	require.NoError(t, err)
	assert.Equal(t, "1234567890", id)

	_, err = parseTeamViewerID("teamviewer: command not found")
	assert.Error(t, err)
}

func TestTeamViewerFacetPropagatesRunnerError(t *testing.T) {
	run := func(context.Context, string, string, ...string) (string, error) {
		return "", errors.New("not installed")
	}
	_, err := TeamViewerID(run).Collect(context.Background())
	assert.Error(t, err)
}

func TestDiskFacet(t *testing.T) {
	v, err := Disk(t.TempDir()).Collect(context.Background())
	require.NoError(t, err)
	usage, ok := v.(DiskUsage)
	require.True(t, ok)
	assert.Greater(t, usage.Total, uint64(0))
}
