// Package cssproxy implements the proxy engine: the state machine that
// binds a single upstream controller to the CII, TS, and WC library
// servers a Companion Screen Application talks to.
package cssproxy

import "fmt"

// ControllerTransportError wraps a broken controller socket. Treated as
// a disconnect: it propagates through the enablement handler.
type ControllerTransportError struct{ Err error }

func (e *ControllerTransportError) Error() string {
	return fmt.Sprintf("controller transport error: %v", e.Err)
}
func (e *ControllerTransportError) Unwrap() error { return e.Err }

// MalformedControllerMessage is a JSON parse error or field-shape
// mismatch in an inbound controller message. Recovered from: logged and
// dropped, connection stays open.
type MalformedControllerMessage struct{ Err error }

func (e *MalformedControllerMessage) Error() string {
	return fmt.Sprintf("malformed controller message: %v", e.Err)
}
func (e *MalformedControllerMessage) Unwrap() error { return e.Err }

// LibraryContractViolation marks an injected CII/TS server behaving
// outside its contract (e.g. a negative client count). The engine logs
// it at error level and drops the offending value; it does not stop the
// process or change its exit code.
type LibraryContractViolation struct{ Detail string }

func (e *LibraryContractViolation) Error() string {
	return fmt.Sprintf("library contract violation: %s", e.Detail)
}

// ControllerACLReject is raised when a connection attempt arrives from
// an address outside the allow-list. Surfaced as HTTP 404, never logged
// at error level.
type ControllerACLReject struct{ RemoteAddr string }

func (e *ControllerACLReject) Error() string {
	return fmt.Sprintf("controller connection rejected: %s not in allow-list", e.RemoteAddr)
}
