package domain

import (
	"net/netip"
	"strings"
)

// Protocol selects the configuration backend for interface actions.
type Protocol string

const (
	ProtocolNone     Protocol = ""
	ProtocolRESTCONF Protocol = "restconf"
	ProtocolNETCONF  Protocol = "netconf"
)

// ParseProtocol matches a token case-insensitively against the known protocols.
func ParseProtocol(token string) (Protocol, bool) {
	switch Protocol(strings.ToLower(token)) {
	case ProtocolRESTCONF:
		return ProtocolRESTCONF, true
	case ProtocolNETCONF:
		return ProtocolNETCONF, true
	}
	return ProtocolNone, false
}

// Action is the closed set of operations an operator can request.
type Action string

const (
	// ActionNone marks a protocol-selection acknowledgement.
	ActionNone              Action = ""
	ActionCreate            Action = "create"
	ActionDelete            Action = "delete"
	ActionEnable            Action = "enable"
	ActionDisable           Action = "disable"
	ActionStatus            Action = "status"
	ActionInterfaceSummary  Action = "gigabit_status"
	ActionShowRunningConfig Action = "showrun"
	ActionGetBanner         Action = "motd_get"
	ActionSetBanner         Action = "motd_set"
)

// RequiresProtocol reports whether the action is served by a
// protocol-specific configuration backend.
func (a Action) RequiresProtocol() bool {
	switch a {
	case ActionCreate, ActionDelete, ActionEnable, ActionDisable, ActionStatus:
		return true
	}
	return false
}

// Intent is a fully validated operator command, ready for dispatch.
type Intent struct {
	Protocol Protocol   `json:"protocol,omitempty"`
	Target   netip.Addr `json:"target,omitempty"`
	Action   Action     `json:"action,omitempty"`
	Banner   string     `json:"banner,omitempty"` // SetBanner only
	Tokens   []string   `json:"tokens"`
}

// IsAck reports whether the intent only selects a protocol.
func (i Intent) IsAck() bool {
	return i.Action == ActionNone
}
