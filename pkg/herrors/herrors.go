// Package herrors defines the error taxonomy surfaced by every control-plane
// component (see spec §7). Each kind is a distinct exported type so callers
// can branch on it with errors.As instead of parsing message strings.
package herrors

import "fmt"

// ValidationError signals a malformed or out-of-range payload. 422 at the
// HTTP boundary, never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unauthorized signals a missing or invalid credential. 401, not retried.
type Unauthorized struct {
	Message string
}

func (e *Unauthorized) Error() string { return e.Message }

// NotFound signals a referenced entity that does not exist. 404.
type NotFound struct {
	Kind string
	ID   string
}

func (e *NotFound) Error() string { return fmt.Sprintf("%s not found: %s", e.Kind, e.ID) }

// Conflict signals a request that cannot be honored given current state
// (duplicate action, already-claimed token, inactive server, apply already
// running). 409.
type Conflict struct {
	Message string
}

func (e *Conflict) Error() string { return e.Message }

// Forbidden signals an operation outside what is permitted (an action type
// not in the whitelist, a disallowed write). 403.
type Forbidden struct {
	Message string
}

func (e *Forbidden) Error() string { return e.Message }

// CredentialDecryptionError means ciphertext could not be decrypted with
// the configured key. Fatal to the dependent operation; the caller must
// re-enter the secret.
type CredentialDecryptionError struct {
	Type string
	Err  error
}

func (e *CredentialDecryptionError) Error() string {
	return fmt.Sprintf("failed to decrypt credential %s: %v", e.Type, e.Err)
}

func (e *CredentialDecryptionError) Unwrap() error { return e.Err }

// SSHKeyNotConfigured means no usable SSH private key could be resolved
// from the vault or the well-known on-disk fallback paths.
type SSHKeyNotConfigured struct{}

func (e *SSHKeyNotConfigured) Error() string { return "no SSH private key configured" }

// SSHConnectionError wraps a transient transport failure. It is the only
// SSH-layer kind the connect loop retries.
type SSHConnectionError struct {
	Hostname string
	Err      error
}

func (e *SSHConnectionError) Error() string {
	return fmt.Sprintf("ssh connect to %s failed: %v", e.Hostname, e.Err)
}

func (e *SSHConnectionError) Unwrap() error { return e.Err }

// SSHAuthenticationError means the transport connected but authentication
// was rejected. Never retried.
type SSHAuthenticationError struct {
	Hostname string
	Err      error
}

func (e *SSHAuthenticationError) Error() string {
	return fmt.Sprintf("ssh auth to %s failed: %v", e.Hostname, e.Err)
}

func (e *SSHAuthenticationError) Unwrap() error { return e.Err }

// HostKeyChanged means the peer's host key fingerprint no longer matches
// the one trusted on first use. Never retried; logged as a security event.
type HostKeyChanged struct {
	MachineID       string
	Hostname        string
	ExpectedFingerprint string
	ActualFingerprint   string
}

func (e *HostKeyChanged) Error() string {
	return fmt.Sprintf("host key for %s (%s) changed: expected %s, got %s",
		e.MachineID, e.Hostname, e.ExpectedFingerprint, e.ActualFingerprint)
}

// CommandTimeout means a remote command did not complete within its
// deadline.
type CommandTimeout struct {
	Hostname string
	Command  string
	Timeout  string
}

func (e *CommandTimeout) Error() string {
	return fmt.Sprintf("command on %s timed out after %s: %s", e.Hostname, e.Timeout, e.Command)
}

// ConfigPackError covers pack load/parse/cycle/missing-template failures.
type ConfigPackError struct {
	PackName string
	Message  string
}

func (e *ConfigPackError) Error() string {
	return fmt.Sprintf("config pack %q: %s", e.PackName, e.Message)
}

// NotificationDropped means the notifier exhausted its retries or its
// bounded retry queue overflowed. Logged, never propagated to a caller.
type NotificationDropped struct {
	Reason string
}

func (e *NotificationDropped) Error() string { return fmt.Sprintf("notification dropped: %s", e.Reason) }
