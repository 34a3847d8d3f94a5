// Package actions implements ActionQueue: the whitelist gate between a
// dashboard click and a single vetted shell command run on a server.
package actions

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/homelabhq/hub/pkg/herrors"
	"github.com/homelabhq/hub/pkg/log"
	"github.com/homelabhq/hub/pkg/metrics"
	"github.com/homelabhq/hub/pkg/types"
)

const dispatchTimeout = 5 * time.Minute
const outputCapBytes = 10 * 1024

var serviceNameRe = regexp.MustCompile(`^[a-zA-Z0-9_.@+-]+$`)

// ExecResult is the shape the SSHExecutor must return — narrow enough
// that this package doesn't need to import pkg/sshexec directly.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// SSHExecutor is the subset of pkg/sshexec the queue needs to run a
// vetted command on a target.
type SSHExecutor interface {
	Execute(server *types.Server, command string, timeout time.Duration) (*ExecResult, error)
}

// Notifier is the subset of pkg/notify needed to report a completed
// action. Action notifications never use the retry queue.
type Notifier interface {
	NotifyActionCompletion(action *types.RemediationAction) error
}

// Store is the persistence surface ActionQueue needs.
type Store interface {
	GetServer(id string) (*types.Server, error)
	ListPendingPackagesByServer(serverID string) ([]types.PendingPackage, error)

	CreateAction(action *types.RemediationAction) error
	GetAction(id string) (*types.RemediationAction, error)
	UpdateAction(action *types.RemediationAction) error
	ListActionsByServer(serverID string) ([]*types.RemediationAction, error)
}

// Queue admits, approves, and dispatches RemediationActions.
type Queue struct {
	store    Store
	exec     SSHExecutor
	notifier Notifier
}

// New builds a Queue.
func New(store Store, exec SSHExecutor, notifier Notifier) *Queue {
	return &Queue{store: store, exec: exec, notifier: notifier}
}

var aptActionTypes = map[types.ActionType]bool{
	types.ActionAptUpdate:          true,
	types.ActionAptUpgradeAll:      true,
	types.ActionAptUpgradeSecurity: true,
}

// Request admits a new action: validates the whitelist, the target
// server's state, and any admission conflicts, then either parks it
// pending manual approval (paused server) or auto-approves and
// dispatches it in the background.
func (q *Queue) Request(serverID string, actionType types.ActionType, serviceName string, alertID *string, createdBy string) (*types.RemediationAction, error) {
	if actionType == types.ActionRestartService {
		if !serviceNameRe.MatchString(serviceName) {
			return nil, &herrors.ValidationError{Field: "service_name", Message: "must match ^[a-zA-Z0-9_.@+-]+$"}
		}
	}

	server, err := q.store.GetServer(serverID)
	if err != nil {
		return nil, &herrors.NotFound{Kind: "server", ID: serverID}
	}
	if server.IsInactive {
		return nil, &herrors.Conflict{Message: "server is inactive"}
	}
	if server.AgentMode == types.AgentModeReadonly {
		return nil, &herrors.Conflict{Message: "server is in readonly agent mode"}
	}

	existing, err := q.store.ListActionsByServer(serverID)
	if err != nil {
		return nil, err
	}
	if actionType == types.ActionRestartService {
		for _, a := range existing {
			if a.ActionType == types.ActionRestartService && a.ServiceName == serviceName && isInFlight(a.Status) {
				return nil, &herrors.Conflict{Message: fmt.Sprintf("a pending restart of %s already exists", serviceName)}
			}
		}
	}
	if aptActionTypes[actionType] {
		for _, a := range existing {
			if aptActionTypes[a.ActionType] && isInFlight(a.Status) {
				return nil, &herrors.Conflict{Message: "an apt action is already in flight for this server"}
			}
		}
	}

	command, err := q.buildCommand(server, actionType, serviceName)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	action := &types.RemediationAction{
		ID:          uuid.NewString(),
		ServerID:    serverID,
		ActionType:  actionType,
		ServiceName: serviceName,
		Command:     command,
		AlertID:     alertID,
		CreatedBy:   createdBy,
		CreatedAt:   now,
	}

	if server.IsPaused {
		action.Status = types.ActionStatusPending
	} else {
		action.Status = types.ActionStatusApproved
		action.ApprovedBy = "auto"
		action.ApprovedAt = &now
	}

	if err := q.store.CreateAction(action); err != nil {
		return nil, err
	}

	if action.Status == types.ActionStatusApproved {
		go q.dispatch(action.ID)
	}
	return action, nil
}

// buildCommand turns a whitelisted action_type into the exact shell
// command the hub will run. Clients never supply raw commands.
func (q *Queue) buildCommand(server *types.Server, actionType types.ActionType, serviceName string) (string, error) {
	switch actionType {
	case types.ActionRestartService:
		return fmt.Sprintf("systemctl restart %s", serviceName), nil
	case types.ActionClearLogs:
		return "journalctl --vacuum-time=7d", nil
	case types.ActionAptUpdate:
		return "DEBIAN_FRONTEND=noninteractive apt-get update -q -o APT::Sandbox::User=root", nil
	case types.ActionAptUpgradeAll:
		return aptUpgradeCommand("dist-upgrade"), nil
	case types.ActionAptUpgradeSecurity:
		pkgs, err := q.store.ListPendingPackagesByServer(server.ID)
		if err != nil {
			return "", err
		}
		var names []string
		for _, p := range pkgs {
			if p.IsSecurity {
				names = append(names, p.Name)
			}
		}
		if len(names) == 0 {
			return "echo 'No security packages to upgrade'", nil
		}
		return aptUpgradeCommand("install") + " " + strings.Join(names, " "), nil
	default:
		return "", &herrors.Forbidden{Message: fmt.Sprintf("action type %q is not whitelisted", actionType)}
	}
}

func aptUpgradeCommand(verb string) string {
	return fmt.Sprintf(
		`DEBIAN_FRONTEND=noninteractive apt-get %s -q -y -o Dpkg::Options::="--force-confdef" -o Dpkg::Options::="--force-confold" -o APT::Sandbox::User=root`,
		verb,
	)
}

func isInFlight(status types.ActionStatus) bool {
	return status == types.ActionStatusPending || status == types.ActionStatusApproved || status == types.ActionStatusExecuting
}

// Approve moves a pending action to approved and dispatches it.
func (q *Queue) Approve(actionID, approvedBy string) error {
	action, err := q.store.GetAction(actionID)
	if err != nil {
		return err
	}
	if action.Status != types.ActionStatusPending {
		return &herrors.Conflict{Message: "only a pending action can be approved"}
	}
	now := time.Now().UTC()
	action.Status = types.ActionStatusApproved
	action.ApprovedBy = approvedBy
	action.ApprovedAt = &now
	if err := q.store.UpdateAction(action); err != nil {
		return err
	}
	go q.dispatch(action.ID)
	return nil
}

// Reject moves a pending action straight to rejected; it is never
// dispatched.
func (q *Queue) Reject(actionID, rejectedBy, reason string) error {
	action, err := q.store.GetAction(actionID)
	if err != nil {
		return err
	}
	if action.Status != types.ActionStatusPending {
		return &herrors.Conflict{Message: "only a pending action can be rejected"}
	}
	now := time.Now().UTC()
	action.Status = types.ActionStatusRejected
	action.RejectedBy = rejectedBy
	action.RejectedAt = &now
	action.RejectionReason = reason
	return q.store.UpdateAction(action)
}

// Cancel stops a pending or approved action before it starts running.
// An executing or already-terminal action cannot be cancelled.
func (q *Queue) Cancel(actionID string) error {
	action, err := q.store.GetAction(actionID)
	if err != nil {
		return err
	}
	if action.Status != types.ActionStatusPending && action.Status != types.ActionStatusApproved {
		return &herrors.Conflict{Message: "action cannot be cancelled in its current state"}
	}
	now := time.Now().UTC()
	action.Status = types.ActionStatusFailed
	action.Stderr = "Action cancelled by user"
	action.CompletedAt = &now
	return q.store.UpdateAction(action)
}

// dispatch runs an approved action's command on its target and records
// the outcome. It is meant to run in its own goroutine.
func (q *Queue) dispatch(actionID string) {
	start := time.Now()
	action, err := q.store.GetAction(actionID)
	if err != nil {
		log.WithActionID(actionID).Error().Err(err).Msg("dispatch: action vanished before execution")
		return
	}
	server, err := q.store.GetServer(action.ServerID)
	if err != nil {
		q.failDispatch(action, fmt.Sprintf("server lookup failed: %v", err), start)
		return
	}

	now := time.Now().UTC()
	action.Status = types.ActionStatusExecuting
	action.ExecutedAt = &now
	if err := q.store.UpdateAction(action); err != nil {
		log.WithActionID(actionID).Error().Err(err).Msg("dispatch: failed to mark action executing")
		return
	}

	command := action.Command
	if aptActionTypes[action.ActionType] {
		command = "sudo " + command
	}

	result, err := q.exec.Execute(server, command, dispatchTimeout)
	if err != nil {
		q.failDispatch(action, err.Error(), start)
		return
	}

	completed := time.Now().UTC()
	action.Stdout = truncateOutput(result.Stdout)
	action.Stderr = truncateOutput(result.Stderr)
	exitCode := result.ExitCode
	action.ExitCode = &exitCode
	action.CompletedAt = &completed
	if exitCode == 0 {
		action.Status = types.ActionStatusCompleted
	} else {
		action.Status = types.ActionStatusFailed
	}

	if err := q.store.UpdateAction(action); err != nil {
		log.WithActionID(actionID).Error().Err(err).Msg("dispatch: failed to persist result")
		return
	}
	q.recordMetrics(action, start)
	q.notify(action)
}

func (q *Queue) failDispatch(action *types.RemediationAction, message string, start time.Time) {
	now := time.Now().UTC()
	action.Status = types.ActionStatusFailed
	action.Stderr = truncateOutput(message)
	action.CompletedAt = &now
	if err := q.store.UpdateAction(action); err != nil {
		log.WithActionID(action.ID).Error().Err(err).Msg("dispatch: failed to persist failure")
		return
	}
	q.recordMetrics(action, start)
	q.notify(action)
}

func (q *Queue) recordMetrics(action *types.RemediationAction, start time.Time) {
	metrics.ActionsTotal.WithLabelValues(string(action.ActionType), string(action.Status)).Inc()
	metrics.ActionExecutionDuration.WithLabelValues(string(action.ActionType)).Observe(time.Since(start).Seconds())
}

func (q *Queue) notify(action *types.RemediationAction) {
	if q.notifier == nil {
		return
	}
	if err := q.notifier.NotifyActionCompletion(action); err != nil {
		log.WithActionID(action.ID).Error().Err(err).Msg("failed to dispatch action completion notification")
	}
}

func truncateOutput(s string) string {
	if len(s) <= outputCapBytes {
		return s
	}
	const marker = "...(truncated)"
	return s[:outputCapBytes-len(marker)] + marker
}
