package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanvision/marine-catalog/internal/application/command"
	"github.com/oceanvision/marine-catalog/internal/application/query"
	"github.com/oceanvision/marine-catalog/internal/domain/shared"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CATALOG_MODE", "static")

	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func listIDs(t *testing.T, out string) []string {
	t.Helper()
	var result query.SpeciesListResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Len(t, result.Species, result.Total)

	ids := make([]string, 0, len(result.Species))
	for _, r := range result.Species {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestSearch(t *testing.T) {
	out, err := execute(t, "search", "SHARK", "--json")
	require.NoError(t, err)
	assert.Equal(t, []string{"great-white-shark"}, listIDs(t, out))

	out, err = execute(t, "search")
	require.NoError(t, err)
	assert.Contains(t, out, "ID  ")
	assert.Contains(t, out, "Blue Whale")
	assert.Contains(t, out, "10 species")
}

func TestAdvanced(t *testing.T) {
	out, err := execute(t, "advanced", "--habitat", "coral", "--status", "endangered", "--json")
	require.NoError(t, err)
	ids := listIDs(t, out)
	assert.NotEmpty(t, ids)
	assert.NotContains(t, ids, "clownfish")

	_, err = execute(t, "advanced", "--min-depth", "500", "--max-depth", "100")
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
}

func TestGet(t *testing.T) {
	out, err := execute(t, "get", "blue-whale")
	require.NoError(t, err)
	assert.Contains(t, out, "Blue Whale")
	assert.Contains(t, out, "Balaenoptera musculus")
	assert.Contains(t, out, "Endangered")

	_, err = execute(t, "get", "kraken")
	require.Error(t, err)
	assert.True(t, shared.IsNotFound(err))

	_, err = execute(t, "get")
	assert.Error(t, err, "id is required")
}

func TestRandom(t *testing.T) {
	out, err := execute(t, "random", "-n", "3", "--json")
	require.NoError(t, err)
	assert.Len(t, listIDs(t, out), 3)

	out, err = execute(t, "random", "--json")
	require.NoError(t, err)
	assert.Len(t, listIDs(t, out), 6)
}

func TestFilters(t *testing.T) {
	out, err := execute(t, "depth", "1100", "2000", "--json")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"great-white-shark", "octopus-giant-pacific"}, listIDs(t, out))

	_, err = execute(t, "depth", "deep", "2000")
	assert.Error(t, err)

	out, err = execute(t, "habitat", "Coral Reefs", "--json")
	require.NoError(t, err)
	assert.Len(t, listIDs(t, out), 5)

	out, err = execute(t, "status", "endangered", "--json")
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"blue-whale", "sea-turtle-green", "coral-staghorn", "manta-ray"},
		listIDs(t, out))
}

func TestStatsAndInfo(t *testing.T) {
	out, err := execute(t, "stats", "--json")
	require.NoError(t, err)
	var stats query.StatisticsResult
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 10, stats.TotalSpecies)
	assert.True(t, stats.HasData)

	out, err = execute(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "CONSERVATION STATUS")
	assert.Contains(t, out, "Least Concern")

	out, err = execute(t, "info", "--json")
	require.NoError(t, err)
	var info query.CatalogInfoResult
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.True(t, info.Ready)
	assert.Equal(t, 10, info.Size)

	out, err = execute(t, "info")
	require.NoError(t, err)
	assert.Contains(t, out, "Mode:")
	assert.Contains(t, out, "static")
}

func TestRefresh(t *testing.T) {
	out, err := execute(t, "refresh", "--json")
	require.NoError(t, err)

	var result command.RefreshCatalogResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.False(t, result.Skipped)
	assert.Equal(t, 10, result.Species)
	assert.Len(t, result.CorrelationID, 36)
}

func TestModeFlag(t *testing.T) {
	_, err := execute(t, "search", "--mode", "s3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown catalog mode")

	_, err = execute(t, "search", "--mode", "postgres")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres mode")
}

func TestDatabaseCommandsNeedDatabase(t *testing.T) {
	_, err := execute(t, "migrate", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is not configured")

	_, err = execute(t, "seed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is not configured")
}
