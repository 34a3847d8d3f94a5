// Package configpack implements ConfigPackApplier: pack load/extends
// resolution, apply/remove against a live host, and the drift detection
// that compares consecutive compliance checks.
package configpack

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/homelabhq/hub/pkg/herrors"
	"github.com/homelabhq/hub/pkg/log"
	"github.com/homelabhq/hub/pkg/metrics"
	"github.com/homelabhq/hub/pkg/types"
)

const (
	fileApplyTimeout    = 30 * time.Second
	packageApplyTimeout = 120 * time.Second
	settingApplyTimeout = 15 * time.Second
	checkTimeout        = 15 * time.Second
	heredocDelimiter    = "HOMELABCMD_EOF_7f3a9c"
)

// ExecResult is the shape the SSHExecutor must return.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// SSHExecutor is the subset of pkg/sshexec the applier needs.
type SSHExecutor interface {
	Execute(server *types.Server, command string, timeout time.Duration) (*ExecResult, error)
}

// Store is the persistence surface ConfigPackApplier needs.
type Store interface {
	GetServer(id string) (*types.Server, error)

	GetPack(name string) (*types.Pack, error)

	CreateConfigApply(apply *types.ConfigApply) error
	GetConfigApply(id string) (*types.ConfigApply, error)
	UpdateConfigApply(apply *types.ConfigApply) error
	ListConfigAppliesByServer(serverID string) ([]*types.ConfigApply, error)

	CreateConfigCheck(check *types.ConfigCheck) error
	ListConfigChecksByServerAndPack(serverID, packName string) ([]*types.ConfigCheck, error)

	CreateAlert(alert *types.Alert) error
	UpdateAlert(alert *types.Alert) error
	ListAlertsByServer(serverID string) ([]*types.Alert, error)
}

// Preview is the dry-run summary returned for a human confirmation
// dialog; producing one never touches a server.
type Preview struct {
	PackName string
	Files    []types.PackFileItem
	Packages []types.PackPackageItem
	Settings []types.PackSettingItem
}

// Applier resolves packs (including extends chains), applies and
// removes them against live hosts, and runs the compliance checks
// drift detection depends on.
type Applier struct {
	store     Store
	exec      SSHExecutor
	templates map[string]string

	cacheMu sync.Mutex
	cache   map[string]*types.Pack
}

// New builds an Applier. templates maps a pack item's `template`
// reference to its text/template source; an unknown reference at apply
// time is a ConfigPackError.
func New(store Store, exec SSHExecutor, templates map[string]string) *Applier {
	if templates == nil {
		templates = map[string]string{}
	}
	return &Applier{store: store, exec: exec, templates: templates, cache: map[string]*types.Pack{}}
}

// InvalidateCache drops every resolved pack from the in-memory cache.
// Packs are cached until this is called explicitly.
func (a *Applier) InvalidateCache() {
	a.cacheMu.Lock()
	a.cache = map[string]*types.Pack{}
	a.cacheMu.Unlock()
}

// resolvePack loads a pack and, if it extends another, recursively
// concatenates the parent's items ahead of its own (parent-first order).
func (a *Applier) resolvePack(name string) (*types.Pack, error) {
	a.cacheMu.Lock()
	if cached, ok := a.cache[name]; ok {
		a.cacheMu.Unlock()
		return cached, nil
	}
	a.cacheMu.Unlock()

	resolved, err := a.loadChain(name, map[string]bool{})
	if err != nil {
		return nil, err
	}

	a.cacheMu.Lock()
	a.cache[name] = resolved
	a.cacheMu.Unlock()
	return resolved, nil
}

func (a *Applier) loadChain(name string, visiting map[string]bool) (*types.Pack, error) {
	if visiting[name] {
		return nil, &herrors.ConfigPackError{PackName: name, Message: "extends cycle detected"}
	}
	visiting[name] = true

	pack, err := a.store.GetPack(name)
	if err != nil {
		return nil, &herrors.ConfigPackError{PackName: name, Message: "pack not found"}
	}
	if pack.Extends == "" {
		clone := *pack
		return &clone, nil
	}

	parent, err := a.loadChain(pack.Extends, visiting)
	if err != nil {
		return nil, err
	}

	return &types.Pack{
		Name:        pack.Name,
		Description: pack.Description,
		Extends:     pack.Extends,
		Files:       append(append([]types.PackFileItem{}, parent.Files...), pack.Files...),
		Packages:    append(append([]types.PackPackageItem{}, parent.Packages...), pack.Packages...),
		Settings:    append(append([]types.PackSettingItem{}, parent.Settings...), pack.Settings...),
	}, nil
}

// Preview resolves a pack's extends chain and returns its grouped item
// list. It never contacts a server.
func (a *Applier) Preview(packName string) (*Preview, error) {
	pack, err := a.resolvePack(packName)
	if err != nil {
		return nil, err
	}
	return &Preview{PackName: pack.Name, Files: pack.Files, Packages: pack.Packages, Settings: pack.Settings}, nil
}

// Apply admits an apply run for (server, pack) and dispatches it in the
// background. Only one non-terminal apply may exist per server at a
// time, regardless of which pack it targets.
func (a *Applier) Apply(serverID, packName string) (*types.ConfigApply, error) {
	server, err := a.store.GetServer(serverID)
	if err != nil {
		return nil, &herrors.NotFound{Kind: "server", ID: serverID}
	}
	if err := a.guardConcurrentApply(serverID); err != nil {
		return nil, err
	}
	pack, err := a.resolvePack(packName)
	if err != nil {
		return nil, err
	}

	apply := &types.ConfigApply{
		ID:         uuid.NewString(),
		ServerID:   serverID,
		PackName:   packName,
		Operation:  "apply",
		Status:     types.ApplyStatusPending,
		ItemsTotal: len(pack.Files) + len(pack.Packages) + len(pack.Settings),
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.store.CreateConfigApply(apply); err != nil {
		return nil, err
	}

	go a.runApply(apply.ID, server, pack)
	return apply, nil
}

// Remove admits a remove run for (server, pack). Packages are never
// uninstalled — only files and settings are rolled back.
func (a *Applier) Remove(serverID, packName string) (*types.ConfigApply, error) {
	server, err := a.store.GetServer(serverID)
	if err != nil {
		return nil, &herrors.NotFound{Kind: "server", ID: serverID}
	}
	if err := a.guardConcurrentApply(serverID); err != nil {
		return nil, err
	}
	pack, err := a.resolvePack(packName)
	if err != nil {
		return nil, err
	}

	apply := &types.ConfigApply{
		ID:         uuid.NewString(),
		ServerID:   serverID,
		PackName:   packName,
		Operation:  "remove",
		Status:     types.ApplyStatusPending,
		ItemsTotal: len(pack.Files) + len(pack.Packages) + len(pack.Settings),
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.store.CreateConfigApply(apply); err != nil {
		return nil, err
	}

	go a.runRemove(apply.ID, server, pack)
	return apply, nil
}

func (a *Applier) guardConcurrentApply(serverID string) error {
	existing, err := a.store.ListConfigAppliesByServer(serverID)
	if err != nil {
		return err
	}
	for _, ap := range existing {
		if !ap.Status.Terminal() {
			return &herrors.Conflict{Message: "a config apply is already running for this server"}
		}
	}
	return nil
}

// runApply walks files, then packages, then settings, updating progress
// after each item. A transport-level SSH failure aborts the whole run;
// an individual command failure only fails that item.
func (a *Applier) runApply(applyID string, server *types.Server, pack *types.Pack) {
	start := time.Now()
	apply, err := a.store.GetConfigApply(applyID)
	if err != nil {
		log.Logger.Error().Err(err).Str("apply_id", applyID).Msg("config apply vanished before running")
		return
	}
	now := time.Now().UTC()
	apply.Status = types.ApplyStatusRunning
	apply.StartedAt = &now
	if err := a.store.UpdateConfigApply(apply); err != nil {
		return
	}

	home := homeDir(server)
	allSucceeded := true

	for _, f := range pack.Files {
		apply.CurrentItem = f.Path
		a.store.UpdateConfigApply(apply)
		result, err := a.applyFile(server, f, home)
		if err != nil {
			a.failApply(apply, err, start)
			return
		}
		a.recordItem(apply, result, &allSucceeded)
	}
	for _, p := range pack.Packages {
		apply.CurrentItem = p.Name
		a.store.UpdateConfigApply(apply)
		result, err := a.applyPackage(server, p)
		if err != nil {
			a.failApply(apply, err, start)
			return
		}
		a.recordItem(apply, result, &allSucceeded)
	}
	for _, s := range pack.Settings {
		apply.CurrentItem = s.Key
		a.store.UpdateConfigApply(apply)
		result, err := a.applySetting(server, s, home)
		if err != nil {
			a.failApply(apply, err, start)
			return
		}
		a.recordItem(apply, result, &allSucceeded)
	}

	completed := time.Now().UTC()
	apply.Status = types.ApplyStatusCompleted
	apply.Progress = 100
	apply.CurrentItem = ""
	apply.CompletedAt = &completed
	if err := a.store.UpdateConfigApply(apply); err != nil {
		return
	}
	a.recordMetrics(apply, start)

	if allSucceeded {
		if _, err := a.RunComplianceCheck(server.ID, pack.Name); err != nil {
			log.WithServerID(server.ID).Error().Err(err).Msg("post-apply compliance recheck failed")
		}
	}
}

func (a *Applier) runRemove(applyID string, server *types.Server, pack *types.Pack) {
	start := time.Now()
	apply, err := a.store.GetConfigApply(applyID)
	if err != nil {
		log.Logger.Error().Err(err).Str("apply_id", applyID).Msg("config remove vanished before running")
		return
	}
	now := time.Now().UTC()
	apply.Status = types.ApplyStatusRunning
	apply.StartedAt = &now
	if err := a.store.UpdateConfigApply(apply); err != nil {
		return
	}

	home := homeDir(server)
	allSucceeded := true

	for _, f := range pack.Files {
		apply.CurrentItem = f.Path
		a.store.UpdateConfigApply(apply)
		result, err := a.removeFile(server, f, home)
		if err != nil {
			a.failApply(apply, err, start)
			return
		}
		a.recordItem(apply, result, &allSucceeded)
	}
	for _, p := range pack.Packages {
		apply.CurrentItem = p.Name
		a.store.UpdateConfigApply(apply)
		a.recordItem(apply, removePackageSkip(p), &allSucceeded)
	}
	for _, s := range pack.Settings {
		apply.CurrentItem = s.Key
		a.store.UpdateConfigApply(apply)
		result, err := a.removeSetting(server, s, home)
		if err != nil {
			a.failApply(apply, err, start)
			return
		}
		a.recordItem(apply, result, &allSucceeded)
	}

	completed := time.Now().UTC()
	apply.Status = types.ApplyStatusCompleted
	apply.Progress = 100
	apply.CurrentItem = ""
	apply.CompletedAt = &completed
	a.store.UpdateConfigApply(apply)
	a.recordMetrics(apply, start)
}

func (a *Applier) recordItem(apply *types.ConfigApply, result types.ItemResult, allSucceeded *bool) {
	apply.Results = append(apply.Results, result)
	apply.ItemsDone++
	if apply.ItemsTotal > 0 {
		apply.Progress = apply.ItemsDone * 100 / apply.ItemsTotal
	}
	if !result.Success {
		*allSucceeded = false
	}
	a.store.UpdateConfigApply(apply)
}

func (a *Applier) failApply(apply *types.ConfigApply, err error, start time.Time) {
	now := time.Now().UTC()
	apply.Status = types.ApplyStatusFailed
	apply.Error = err.Error()
	apply.CurrentItem = ""
	apply.CompletedAt = &now
	a.recordMetrics(apply, start)
	if err := a.store.UpdateConfigApply(apply); err != nil {
		log.Logger.Error().Err(err).Str("apply_id", apply.ID).Msg("failed to persist failed config apply")
	}
}

func (a *Applier) recordMetrics(apply *types.ConfigApply, start time.Time) {
	metrics.ConfigApplyTotal.WithLabelValues(apply.Operation, string(apply.Status)).Inc()
	metrics.ConfigApplyDuration.WithLabelValues(apply.Operation).Observe(time.Since(start).Seconds())
}

// applyFile renders its template (if any), writes the result via a
// heredoc with an improbable delimiter so file content can never
// collide with the surrounding shell, then chmods it.
func (a *Applier) applyFile(server *types.Server, item types.PackFileItem, home string) (types.ItemResult, error) {
	targetPath := expandHome(item.Path, home)
	content := ""
	if item.Template != "" {
		rendered, err := a.renderTemplate(item.Template, templateData{Home: home, Hostname: server.Hostname, ServerID: server.ID})
		if err != nil {
			return types.ItemResult{Item: item.Path, Action: "created", Success: false, Error: err.Error()}, nil
		}
		content = rendered
	}

	command := writeFileCommand(targetPath, content, item.Mode)
	result, err := a.exec.Execute(server, command, fileApplyTimeout)
	if err != nil {
		if isFatalSSHError(err) {
			return types.ItemResult{}, err
		}
		return types.ItemResult{Item: item.Path, Action: "created", Success: false, Error: err.Error()}, nil
	}
	if result.ExitCode != 0 {
		return types.ItemResult{Item: item.Path, Action: "created", Success: false, Error: strings.TrimSpace(result.Stderr)}, nil
	}
	return types.ItemResult{Item: item.Path, Action: "created", Success: true}, nil
}

func (a *Applier) applyPackage(server *types.Server, item types.PackPackageItem) (types.ItemResult, error) {
	command := fmt.Sprintf("sudo apt-get install -y %s", shellQuote(item.Name))
	result, err := a.exec.Execute(server, command, packageApplyTimeout)
	if err != nil {
		if isFatalSSHError(err) {
			return types.ItemResult{}, err
		}
		return types.ItemResult{Item: item.Name, Action: "installed", Success: false, Error: err.Error()}, nil
	}
	if result.ExitCode != 0 {
		return types.ItemResult{Item: item.Name, Action: "installed", Success: false, Error: strings.TrimSpace(result.Stderr)}, nil
	}
	return types.ItemResult{Item: item.Name, Action: "installed", Success: true}, nil
}

func (a *Applier) applySetting(server *types.Server, item types.PackSettingItem, home string) (types.ItemResult, error) {
	command := settingAppendCommand(home, item)
	result, err := a.exec.Execute(server, command, settingApplyTimeout)
	if err != nil {
		if isFatalSSHError(err) {
			return types.ItemResult{}, err
		}
		return types.ItemResult{Item: item.Key, Action: "set", Success: false, Error: err.Error()}, nil
	}
	if result.ExitCode != 0 {
		return types.ItemResult{Item: item.Key, Action: "set", Success: false, Error: strings.TrimSpace(result.Stderr)}, nil
	}
	return types.ItemResult{Item: item.Key, Action: "set", Success: true}, nil
}

func (a *Applier) removeFile(server *types.Server, item types.PackFileItem, home string) (types.ItemResult, error) {
	targetPath := expandHome(item.Path, home)
	backup := targetPath + ".homelabcmd.bak"
	command := fmt.Sprintf("cp %s %s || true && rm -f %s", shellQuote(targetPath), shellQuote(backup), shellQuote(targetPath))
	result, err := a.exec.Execute(server, command, fileApplyTimeout)
	if err != nil {
		if isFatalSSHError(err) {
			return types.ItemResult{}, err
		}
		return types.ItemResult{Item: item.Path, Action: "deleted", Success: false, Error: err.Error()}, nil
	}
	if result.ExitCode != 0 {
		return types.ItemResult{Item: item.Path, Action: "deleted", Success: false, Error: strings.TrimSpace(result.Stderr)}, nil
	}
	return types.ItemResult{Item: item.Path, Action: "deleted", Success: true, BackupPath: backup}, nil
}

func removePackageSkip(item types.PackPackageItem) types.ItemResult {
	return types.ItemResult{Item: item.Name, Action: "skipped", Success: true, Error: "left installed to avoid breaking dependencies"}
}

func (a *Applier) removeSetting(server *types.Server, item types.PackSettingItem, home string) (types.ItemResult, error) {
	envFile := home + "/.bashrc.d/env.sh"
	command := fmt.Sprintf(`sed -i '/^export %s=/d' %s`, escapeSedPattern(item.Key), shellQuote(envFile))
	result, err := a.exec.Execute(server, command, settingApplyTimeout)
	if err != nil {
		if isFatalSSHError(err) {
			return types.ItemResult{}, err
		}
		return types.ItemResult{Item: item.Key, Action: "deleted", Success: false, Error: err.Error()}, nil
	}
	if result.ExitCode != 0 {
		return types.ItemResult{Item: item.Key, Action: "deleted", Success: false, Error: strings.TrimSpace(result.Stderr)}, nil
	}
	return types.ItemResult{Item: item.Key, Action: "deleted", Success: true}, nil
}

// RunComplianceCheck inspects the live host against every item in a
// resolved pack and records a ConfigCheck, then feeds the result into
// drift detection.
func (a *Applier) RunComplianceCheck(serverID, packName string) (*types.ConfigCheck, error) {
	server, err := a.store.GetServer(serverID)
	if err != nil {
		return nil, &herrors.NotFound{Kind: "server", ID: serverID}
	}
	pack, err := a.resolvePack(packName)
	if err != nil {
		return nil, err
	}

	home := homeDir(server)
	var mismatches []string

	for _, f := range pack.Files {
		ok, err := a.checkFile(server, f, home)
		if err != nil {
			return nil, err
		}
		if !ok {
			mismatches = append(mismatches, "file:"+f.Path)
		}
	}
	for _, p := range pack.Packages {
		ok, err := a.checkPackage(server, p)
		if err != nil {
			return nil, err
		}
		if !ok {
			mismatches = append(mismatches, "package:"+p.Name)
		}
	}
	for _, s := range pack.Settings {
		ok, err := a.checkSetting(server, s, home)
		if err != nil {
			return nil, err
		}
		if !ok {
			mismatches = append(mismatches, "setting:"+s.Key)
		}
	}

	check := &types.ConfigCheck{
		ID:         uuid.NewString(),
		ServerID:   serverID,
		PackName:   packName,
		Compliant:  len(mismatches) == 0,
		Mismatches: mismatches,
		CheckedAt:  time.Now().UTC(),
	}
	if err := a.store.CreateConfigCheck(check); err != nil {
		return nil, err
	}

	if err := a.evaluateDrift(server, packName); err != nil {
		log.WithServerID(serverID).Error().Err(err).Str("pack", packName).Msg("drift evaluation failed")
	}
	return check, nil
}

func (a *Applier) checkFile(server *types.Server, item types.PackFileItem, home string) (bool, error) {
	targetPath := expandHome(item.Path, home)
	command := fmt.Sprintf(`test -e %s && [ "$(stat -c %%a %s)" = "%s" ]`, shellQuote(targetPath), shellQuote(targetPath), trimOctal(item.Mode))
	result, err := a.exec.Execute(server, command, checkTimeout)
	if err != nil {
		if isFatalSSHError(err) {
			return false, err
		}
		return false, nil
	}
	return result.ExitCode == 0, nil
}

func (a *Applier) checkPackage(server *types.Server, item types.PackPackageItem) (bool, error) {
	command := fmt.Sprintf("dpkg -s %s >/dev/null 2>&1", shellQuote(item.Name))
	result, err := a.exec.Execute(server, command, checkTimeout)
	if err != nil {
		if isFatalSSHError(err) {
			return false, err
		}
		return false, nil
	}
	return result.ExitCode == 0, nil
}

func (a *Applier) checkSetting(server *types.Server, item types.PackSettingItem, home string) (bool, error) {
	envFile := home + "/.bashrc.d/env.sh"
	line := fmt.Sprintf(`export %s="%s"`, item.Key, doubleQuoteEscape(item.Expected))
	command := fmt.Sprintf("grep -qxF %s %s", shellQuote(line), shellQuote(envFile))
	result, err := a.exec.Execute(server, command, checkTimeout)
	if err != nil {
		if isFatalSSHError(err) {
			return false, err
		}
		return false, nil
	}
	return result.ExitCode == 0, nil
}

// evaluateDrift compares the two most recent ConfigChecks for (server,
// pack). The first-ever check for a pack has no prior state and never
// raises.
func (a *Applier) evaluateDrift(server *types.Server, packName string) error {
	checks, err := a.store.ListConfigChecksByServerAndPack(server.ID, packName)
	if err != nil {
		return err
	}
	if len(checks) < 2 {
		return nil
	}
	sort.Slice(checks, func(i, j int) bool { return checks[i].CheckedAt.Before(checks[j].CheckedAt) })
	prior, current := checks[len(checks)-2], checks[len(checks)-1]

	metricType := types.DriftMetricType(packName)
	openAlert, err := a.findOpenAlert(server.ID, metricType)
	if err != nil {
		return err
	}

	switch {
	case !prior.Compliant && current.Compliant:
		if openAlert == nil {
			return nil
		}
		now := time.Now().UTC()
		openAlert.Status = types.AlertStatusResolved
		openAlert.ResolvedAt = &now
		openAlert.AutoResolved = true
		return a.store.UpdateAlert(openAlert)

	case prior.Compliant && !current.Compliant:
		metrics.ConfigDriftDetectedTotal.Inc()
		message := fmt.Sprintf("%s has %d config mismatch(es) against pack %q", serverLabel(server), len(current.Mismatches), packName)
		if openAlert != nil {
			openAlert.Message = message
			openAlert.ActualValue = float64(len(current.Mismatches))
			return a.store.UpdateAlert(openAlert)
		}
		alert := &types.Alert{
			ID:          uuid.NewString(),
			ServerID:    server.ID,
			AlertType:   metricType,
			Severity:    types.SeverityWarning,
			Status:      types.AlertStatusOpen,
			Title:       fmt.Sprintf("Config drift on %s (%s)", serverLabel(server), packName),
			Message:     message,
			ActualValue: float64(len(current.Mismatches)),
			CreatedAt:   time.Now().UTC(),
		}
		return a.store.CreateAlert(alert)

	default:
		return nil
	}
}

func (a *Applier) findOpenAlert(serverID string, metricType types.MetricType) (*types.Alert, error) {
	alerts, err := a.store.ListAlertsByServer(serverID)
	if err != nil {
		return nil, err
	}
	for _, alert := range alerts {
		if alert.AlertType == metricType && alert.Status == types.AlertStatusOpen {
			return alert, nil
		}
	}
	return nil, nil
}

type templateData struct {
	Home     string
	Hostname string
	ServerID string
}

func (a *Applier) renderTemplate(name string, data templateData) (string, error) {
	src, ok := a.templates[name]
	if !ok {
		return "", &herrors.ConfigPackError{PackName: name, Message: "template not found"}
	}
	tmpl, err := template.New(name).Parse(src)
	if err != nil {
		return "", &herrors.ConfigPackError{PackName: name, Message: fmt.Sprintf("template parse failed: %v", err)}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", &herrors.ConfigPackError{PackName: name, Message: fmt.Sprintf("template execution failed: %v", err)}
	}
	return buf.String(), nil
}

func writeFileCommand(targetPath, content, mode string) string {
	dir := path.Dir(targetPath)
	return fmt.Sprintf(
		"mkdir -p %s && cat > %s <<'%s'\n%s\n%s\nchmod %s %s",
		shellQuote(dir), shellQuote(targetPath), heredocDelimiter, content, heredocDelimiter, mode, shellQuote(targetPath),
	)
}

func settingAppendCommand(home string, item types.PackSettingItem) string {
	dir := home + "/.bashrc.d"
	line := fmt.Sprintf(`export %s="%s"`, item.Key, doubleQuoteEscape(item.Expected))
	return fmt.Sprintf("mkdir -p %s && echo %s >> %s/env.sh", shellQuote(dir), shellQuote(line), dir)
}

func homeDir(server *types.Server) string {
	if server.SSHUsername == "" || server.SSHUsername == "root" {
		return "/root"
	}
	return "/home/" + server.SSHUsername
}

func expandHome(p, home string) string {
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") {
		return home + p[1:]
	}
	return p
}

func trimOctal(mode string) string {
	return strings.TrimPrefix(mode, "0")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func doubleQuoteEscape(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", "\\$", "`", "\\`")
	return replacer.Replace(s)
}

func escapeSedPattern(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, "/", `\/`, ".", `\.`, "*", `\*`, "[", `\[`, "]", `\]`, "^", `\^`, "$", `\$`)
	return replacer.Replace(s)
}

func isFatalSSHError(err error) bool {
	var connErr *herrors.SSHConnectionError
	var authErr *herrors.SSHAuthenticationError
	var keyErr *herrors.SSHKeyNotConfigured
	return errors.As(err, &connErr) || errors.As(err, &authErr) || errors.As(err, &keyErr)
}

func serverLabel(server *types.Server) string {
	if server.DisplayName != "" {
		return server.DisplayName
	}
	return server.Hostname
}
