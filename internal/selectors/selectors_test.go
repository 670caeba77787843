package selectors

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validMap = `
version: "2026.10-1"
portal: llc-articles
fields:
  entity_name:
    primary: "css=#corp_name"
    fallback: "xpath=//input[@name='corp_name']"
  principal_address:
    primary: "#princ_addr1"
  management_type:
    primary: "css=select#mgmt_type"
  registered_agent_name:
    primary: "#ra_name"
  registered_agent_address:
    primary: "#ra_addr1"
  organizer_name:
    primary: "#auth_name"
  submit:
    primary: "css=input[type=submit]"
    fallback: "css=button.submit"
  confirmation_number:
    primary: "css=#tracking_number"
`

func TestParse_ValidMap(t *testing.T) {
	m, err := Parse([]byte(validMap))
	require.NoError(t, err)

	assert.Equal(t, "2026.10-1", m.Version)

	entry, err := m.Resolve(FieldEntityName)
	require.NoError(t, err)
	assert.Equal(t, Locator{Strategy: StrategyCSS, Query: "#corp_name"}, entry.Primary)
	require.NotNil(t, entry.Fallback)
	assert.Equal(t, StrategyXPath, entry.Fallback.Strategy)
	assert.Len(t, entry.Candidates(), 2)
	assert.Equal(t, KindText, entry.Kind)

	addr, err := m.Resolve(FieldPrincipalAddress)
	require.NoError(t, err)
	assert.Nil(t, addr.Fallback)
	assert.Len(t, addr.Candidates(), 1)
	assert.Equal(t, StrategyCSS, addr.Primary.Strategy, "bare locator defaults to css")

	submit, _ := m.Resolve(FieldSubmit)
	assert.Equal(t, KindClick, submit.Kind)
	confirm, _ := m.Resolve(FieldConfirmationNumber)
	assert.Equal(t, KindRead, confirm.Kind)
	mgmt, _ := m.Resolve(FieldManagementType)
	assert.Equal(t, KindSelect, mgmt.Kind)
}

func TestResolve_UnknownField(t *testing.T) {
	m, err := Parse([]byte(validMap))
	require.NoError(t, err)

	_, err = m.Resolve("favorite_color")
	var unknown *UnknownFieldError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "2026.10-1", unknown.Version)
}

func TestParse_RejectsIncompleteMap(t *testing.T) {
	broken := strings.Replace(validMap, "  submit:\n", "  submit_button:\n", 1)
	_, err := Parse([]byte(broken))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing required field "submit"`)

	_, err = Parse([]byte(strings.Replace(validMap, `version: "2026.10-1"`, "", 1)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version is required")

	_, err = Parse([]byte(strings.Replace(validMap, `primary: "#ra_name"`, `primary: "#ra_name"`+"\n    kind: hover", 1)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestParseLocator(t *testing.T) {
	tests := []struct {
		raw  string
		want Locator
	}{
		{"#a", Locator{StrategyCSS, "#a"}},
		{"css=#a", Locator{StrategyCSS, "#a"}},
		{"XPATH=//div", Locator{StrategyXPath, "//div"}},
		{"input[name=x]", Locator{StrategyCSS, "input[name=x]"}},
	}
	for _, tt := range tests {
		got, err := ParseLocator(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
	_, err := ParseLocator("  ")
	assert.Error(t, err)
}

func TestSource_SnapshotIsStableAcrossSwap(t *testing.T) {
	v1, err := Parse([]byte(validMap))
	require.NoError(t, err)
	v2, err := Parse([]byte(strings.Replace(validMap, "2026.10-1", "2026.10-2", 1)))
	require.NoError(t, err)

	src := NewSource(v1)
	run := src.Snapshot()
	prev := src.Swap(v2)

	assert.Same(t, v1, prev)
	assert.Equal(t, "2026.10-1", run.Version, "an in-flight run keeps its snapshot")
	assert.Equal(t, "2026.10-2", src.Snapshot().Version)
}

func TestWatcher_ReloadKeepsCurrentOnInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "portal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validMap), 0o644))

	src, err := LoadSource(path)
	require.NoError(t, err)
	w, err := NewWatcher(path, src, nil)
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("version: broken\nfields: {}\n"), 0o644))
	w.Reload()
	assert.Equal(t, "2026.10-1", src.Snapshot().Version)
	assert.Equal(t, 1, w.Stats().Rejected)

	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(validMap, "2026.10-1", "2026.11-1", 1)), 0o644))
	w.Reload()
	assert.Equal(t, "2026.11-1", src.Snapshot().Version)
	assert.Equal(t, 1, w.Stats().Reloads)
}

func TestWatcher_PicksUpFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "portal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validMap), 0o644))

	src, err := LoadSource(path)
	require.NoError(t, err)
	w, err := NewWatcher(path, src, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(validMap, "2026.10-1", "2026.12-1", 1)), 0o644))

	require.Eventually(t, func() bool {
		return src.Snapshot().Version == "2026.12-1"
	}, 5*time.Second, 50*time.Millisecond)
}
