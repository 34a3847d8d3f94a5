package configpack

import (
	"testing"
	"time"

	"github.com/homelabhq/hub/pkg/herrors"
	"github.com/homelabhq/hub/pkg/storage"
	"github.com/homelabhq/hub/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	results map[string]*ExecResult // keyed by command substring match, checked in order added
	order   []string
	err     error
	calls   []string
}

func (f *fakeExecutor) Execute(server *types.Server, command string, timeout time.Duration) (*ExecResult, error) {
	f.calls = append(f.calls, command)
	if f.err != nil {
		return nil, f.err
	}
	for _, key := range f.order {
		if containsSubstr(command, key) {
			return f.results[key], nil
		}
	}
	return &ExecResult{ExitCode: 0}, nil
}

func (f *fakeExecutor) on(substr string, result *ExecResult) {
	if f.results == nil {
		f.results = map[string]*ExecResult{}
	}
	f.results[substr] = result
	f.order = append(f.order, substr)
}

func containsSubstr(s, substr string) bool {
	return len(s) >= len(substr) && indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func newTestApplier(t *testing.T, exec *fakeExecutor, templates map[string]string) (*Applier, *storage.BoltStore) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, exec, templates), store
}

func seedServer(t *testing.T, store *storage.BoltStore, s *types.Server) {
	t.Helper()
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	require.NoError(t, store.CreateServer(s))
}

func waitTerminal(t *testing.T, store *storage.BoltStore, applyID string) *types.ConfigApply {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		apply, err := store.GetConfigApply(applyID)
		require.NoError(t, err)
		if apply.Status.Terminal() {
			return apply
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("config apply %s never reached a terminal state", applyID)
	return nil
}

func basicPack(name string) *types.Pack {
	return &types.Pack{
		Name: name,
		Files: []types.PackFileItem{
			{Path: "~/app/config.yaml", Mode: "0644", Template: "config"},
		},
		Packages: []types.PackPackageItem{
			{Name: "htop"},
		},
		Settings: []types.PackSettingItem{
			{Type: types.SettingEnvVar, Key: "APP_ENV", Expected: "production"},
		},
	}
}

func TestResolvePackWithoutExtends(t *testing.T) {
	applier, store := newTestApplier(t, &fakeExecutor{}, nil)
	require.NoError(t, store.PutPack(basicPack("base")))

	preview, err := applier.Preview("base")
	require.NoError(t, err)
	assert.Len(t, preview.Files, 1)
	assert.Len(t, preview.Packages, 1)
	assert.Len(t, preview.Settings, 1)
}

func TestResolvePackConcatenatesExtendsChainParentFirst(t *testing.T) {
	applier, store := newTestApplier(t, &fakeExecutor{}, nil)
	require.NoError(t, store.PutPack(&types.Pack{
		Name:     "base",
		Packages: []types.PackPackageItem{{Name: "curl"}},
	}))
	require.NoError(t, store.PutPack(&types.Pack{
		Name:     "web",
		Extends:  "base",
		Packages: []types.PackPackageItem{{Name: "nginx"}},
	}))

	preview, err := applier.Preview("web")
	require.NoError(t, err)
	require.Len(t, preview.Packages, 2)
	assert.Equal(t, "curl", preview.Packages[0].Name)
	assert.Equal(t, "nginx", preview.Packages[1].Name)
}

func TestResolvePackDetectsExtendsCycle(t *testing.T) {
	applier, store := newTestApplier(t, &fakeExecutor{}, nil)
	require.NoError(t, store.PutPack(&types.Pack{Name: "a", Extends: "b"}))
	require.NoError(t, store.PutPack(&types.Pack{Name: "b", Extends: "a"}))

	_, err := applier.Preview("a")
	require.Error(t, err)
	assert.IsType(t, &herrors.ConfigPackError{}, err)
}

func TestResolvePackCachesAcrossCalls(t *testing.T) {
	applier, store := newTestApplier(t, &fakeExecutor{}, nil)
	require.NoError(t, store.PutPack(basicPack("base")))

	first, err := applier.Preview("base")
	require.NoError(t, err)

	require.NoError(t, store.DeletePack("base"))

	second, err := applier.Preview("base")
	require.NoError(t, err)
	assert.Equal(t, first.PackName, second.PackName)

	applier.InvalidateCache()
	_, err = applier.Preview("base")
	require.Error(t, err)
}

func TestApplySucceedsAndTriggersComplianceCheck(t *testing.T) {
	exec := &fakeExecutor{}
	applier, store := newTestApplier(t, exec, map[string]string{"config": "env: {{.Hostname}}"})
	require.NoError(t, store.PutPack(basicPack("base")))
	seedServer(t, store, &types.Server{ID: "srv-1", Hostname: "box1", SSHUsername: "deploy"})

	apply, err := applier.Apply("srv-1", "base")
	require.NoError(t, err)

	final := waitTerminal(t, store, apply.ID)
	assert.Equal(t, types.ApplyStatusCompleted, final.Status)
	assert.Equal(t, 3, final.ItemsDone)
	assert.Equal(t, 100, final.Progress)
	for _, r := range final.Results {
		assert.True(t, r.Success)
	}

	// The post-apply compliance check runs after the apply is already
	// stored as completed, so wait for its record to appear.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pending, _ := store.ListConfigChecksByServerAndPack("srv-1", "base"); len(pending) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	checks, err := store.ListConfigChecksByServerAndPack("srv-1", "base")
	require.NoError(t, err)
	assert.Len(t, checks, 1)
}

func TestApplyRecordsFailedItemButContinues(t *testing.T) {
	exec := &fakeExecutor{}
	exec.on("apt-get install -y 'htop'", &ExecResult{ExitCode: 1, Stderr: "no candidate"})
	applier, store := newTestApplier(t, exec, map[string]string{"config": "ok"})
	require.NoError(t, store.PutPack(basicPack("base")))
	seedServer(t, store, &types.Server{ID: "srv-1", Hostname: "box1"})

	apply, err := applier.Apply("srv-1", "base")
	require.NoError(t, err)

	final := waitTerminal(t, store, apply.ID)
	assert.Equal(t, types.ApplyStatusCompleted, final.Status)

	var sawFailure bool
	for _, r := range final.Results {
		if r.Item == "htop" {
			assert.False(t, r.Success)
			sawFailure = true
		}
	}
	assert.True(t, sawFailure)

	// a failed item must not trigger a compliance recheck
	checks, err := store.ListConfigChecksByServerAndPack("srv-1", "base")
	require.NoError(t, err)
	assert.Len(t, checks, 0)
}

func TestApplyAbortsOnFatalSSHError(t *testing.T) {
	exec := &fakeExecutor{err: &herrors.SSHConnectionError{Hostname: "box1"}}
	applier, store := newTestApplier(t, exec, map[string]string{"config": "ok"})
	require.NoError(t, store.PutPack(basicPack("base")))
	seedServer(t, store, &types.Server{ID: "srv-1", Hostname: "box1"})

	apply, err := applier.Apply("srv-1", "base")
	require.NoError(t, err)

	final := waitTerminal(t, store, apply.ID)
	assert.Equal(t, types.ApplyStatusFailed, final.Status)
	assert.NotEmpty(t, final.Error)
	assert.Empty(t, final.Results)
}

func TestApplyRejectsMissingTemplate(t *testing.T) {
	exec := &fakeExecutor{}
	applier, store := newTestApplier(t, exec, nil)
	require.NoError(t, store.PutPack(basicPack("base")))
	seedServer(t, store, &types.Server{ID: "srv-1", Hostname: "box1"})

	apply, err := applier.Apply("srv-1", "base")
	require.NoError(t, err)

	final := waitTerminal(t, store, apply.ID)
	assert.Equal(t, types.ApplyStatusCompleted, final.Status)
	require.NotEmpty(t, final.Results)
	assert.False(t, final.Results[0].Success)
}

func TestApplyRejectsConcurrentRunOnSameServer(t *testing.T) {
	exec := &fakeExecutor{}
	applier, store := newTestApplier(t, exec, map[string]string{"config": "ok"})
	require.NoError(t, store.PutPack(basicPack("base")))
	seedServer(t, store, &types.Server{ID: "srv-1", Hostname: "box1"})

	require.NoError(t, store.CreateConfigApply(&types.ConfigApply{
		ID: "running-1", ServerID: "srv-1", PackName: "base",
		Operation: "apply", Status: types.ApplyStatusRunning, CreatedAt: time.Now().UTC(),
	}))

	_, err := applier.Apply("srv-1", "base")
	require.Error(t, err)
	assert.IsType(t, &herrors.Conflict{}, err)
}

func TestApplyRejectsUnknownServer(t *testing.T) {
	applier, store := newTestApplier(t, &fakeExecutor{}, nil)
	require.NoError(t, store.PutPack(basicPack("base")))

	_, err := applier.Apply("ghost", "base")
	require.Error(t, err)
	assert.IsType(t, &herrors.NotFound{}, err)
}

func TestRemoveDeletesFilesAndBacksUpButSkipsPackages(t *testing.T) {
	exec := &fakeExecutor{}
	applier, store := newTestApplier(t, exec, map[string]string{"config": "ok"})
	require.NoError(t, store.PutPack(basicPack("base")))
	seedServer(t, store, &types.Server{ID: "srv-1", Hostname: "box1"})

	apply, err := applier.Remove("srv-1", "base")
	require.NoError(t, err)

	final := waitTerminal(t, store, apply.ID)
	assert.Equal(t, types.ApplyStatusCompleted, final.Status)

	var sawSkip, sawDelete bool
	for _, r := range final.Results {
		if r.Action == "skipped" {
			sawSkip = true
		}
		if r.Action == "deleted" && r.Item == "~/app/config.yaml" {
			sawDelete = true
			assert.Contains(t, r.BackupPath, ".homelabcmd.bak")
		}
	}
	assert.True(t, sawSkip)
	assert.True(t, sawDelete)
}

func TestRunComplianceCheckRecordsMismatches(t *testing.T) {
	exec := &fakeExecutor{}
	exec.on("dpkg -s 'htop'", &ExecResult{ExitCode: 1})
	applier, store := newTestApplier(t, exec, nil)
	require.NoError(t, store.PutPack(basicPack("base")))
	seedServer(t, store, &types.Server{ID: "srv-1", Hostname: "box1"})

	check, err := applier.RunComplianceCheck("srv-1", "base")
	require.NoError(t, err)
	assert.False(t, check.Compliant)
	assert.Contains(t, check.Mismatches, "package:htop")
}

func TestFirstComplianceCheckNeverRaisesDrift(t *testing.T) {
	exec := &fakeExecutor{}
	exec.on("dpkg -s 'htop'", &ExecResult{ExitCode: 1})
	applier, store := newTestApplier(t, exec, nil)
	require.NoError(t, store.PutPack(basicPack("base")))
	seedServer(t, store, &types.Server{ID: "srv-1", Hostname: "box1"})

	_, err := applier.RunComplianceCheck("srv-1", "base")
	require.NoError(t, err)

	alerts, err := store.ListAlertsByServer("srv-1")
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestDriftRaisesOnTransitionFromCompliantToNonCompliant(t *testing.T) {
	exec := &fakeExecutor{}
	applier, store := newTestApplier(t, exec, nil)
	require.NoError(t, store.PutPack(basicPack("base")))
	seedServer(t, store, &types.Server{ID: "srv-1", Hostname: "box1"})

	_, err := applier.RunComplianceCheck("srv-1", "base")
	require.NoError(t, err)

	exec.on("dpkg -s 'htop'", &ExecResult{ExitCode: 1})
	_, err = applier.RunComplianceCheck("srv-1", "base")
	require.NoError(t, err)

	alerts, err := store.ListAlertsByServer("srv-1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, types.AlertStatusOpen, alerts[0].Status)
	assert.Equal(t, types.DriftMetricType("base"), alerts[0].AlertType)
	assert.Equal(t, types.SeverityWarning, alerts[0].Severity)
}

func TestDriftAutoResolvesOnTransitionBackToCompliant(t *testing.T) {
	exec := &fakeExecutor{}
	applier, store := newTestApplier(t, exec, nil)
	require.NoError(t, store.PutPack(basicPack("base")))
	seedServer(t, store, &types.Server{ID: "srv-1", Hostname: "box1"})

	_, err := applier.RunComplianceCheck("srv-1", "base")
	require.NoError(t, err)
	exec.on("dpkg -s 'htop'", &ExecResult{ExitCode: 1})
	_, err = applier.RunComplianceCheck("srv-1", "base")
	require.NoError(t, err)

	alerts, err := store.ListAlertsByServer("srv-1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	exec.results = nil
	exec.order = nil
	_, err = applier.RunComplianceCheck("srv-1", "base")
	require.NoError(t, err)

	alerts, err = store.ListAlertsByServer("srv-1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, types.AlertStatusResolved, alerts[0].Status)
	assert.True(t, alerts[0].AutoResolved)
}

func TestDriftStaysOpenAcrossRepeatedNonCompliantChecks(t *testing.T) {
	exec := &fakeExecutor{}
	applier, store := newTestApplier(t, exec, nil)
	require.NoError(t, store.PutPack(basicPack("base")))
	seedServer(t, store, &types.Server{ID: "srv-1", Hostname: "box1"})

	// first check is compliant, so the next two non-compliant checks
	// cover both the raising transition and a steady non-compliant state
	_, err := applier.RunComplianceCheck("srv-1", "base")
	require.NoError(t, err)

	exec.on("dpkg -s 'htop'", &ExecResult{ExitCode: 1})
	_, err = applier.RunComplianceCheck("srv-1", "base")
	require.NoError(t, err)
	_, err = applier.RunComplianceCheck("srv-1", "base")
	require.NoError(t, err)

	alerts, err := store.ListAlertsByServer("srv-1")
	require.NoError(t, err)
	require.Len(t, alerts, 1, "repeated drift must update the existing alert, not create new ones")
	assert.Equal(t, types.AlertStatusOpen, alerts[0].Status)
}

func TestHomeDirResolution(t *testing.T) {
	assert.Equal(t, "/root", homeDir(&types.Server{SSHUsername: ""}))
	assert.Equal(t, "/root", homeDir(&types.Server{SSHUsername: "root"}))
	assert.Equal(t, "/home/deploy", homeDir(&types.Server{SSHUsername: "deploy"}))
}

func TestExpandHome(t *testing.T) {
	assert.Equal(t, "/home/deploy", expandHome("~", "/home/deploy"))
	assert.Equal(t, "/home/deploy/app/config.yaml", expandHome("~/app/config.yaml", "/home/deploy"))
	assert.Equal(t, "/etc/app/config.yaml", expandHome("/etc/app/config.yaml", "/home/deploy"))
}
