// Package parser turns chat text into validated intents.
//
// Grammar: /<deviceID> [restconf|netconf] [<ipv4>] <action> [args...]
// The protocol keyword and the address are recognized at any position, except
// that a protocol keyword inside motd text stays part of the banner. The first
// unclaimed token is the action.
package parser

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"netopsbot/internal/domain"
)

// Parser parses commands addressed to one device.
type Parser struct {
	prefix string
	store  domain.SessionStore
}

// New creates a parser for messages of the form "/<deviceID> ...".
func New(deviceID string, store domain.SessionStore) *Parser {
	return &Parser{
		prefix: "/" + deviceID,
		store:  store,
	}
}

// Prefix returns the command prefix without the trailing space.
func (p *Parser) Prefix() string { return p.prefix }

// Parse validates text against the command grammar. It returns
// ErrNotCommand for messages that are not addressed to this device, a
// *UserError for malformed commands, or a wrapped store error.
//
// An explicit protocol keyword updates the session store even when the rest
// of the command is rejected.
func (p *Parser) Parse(ctx context.Context, text string) (domain.Intent, error) {
	body, ok := p.stripPrefix(text)
	if !ok {
		return domain.Intent{}, ErrNotCommand
	}

	tokens := strings.Fields(body)
	if len(tokens) == 0 {
		return domain.Intent{}, ErrNoCommand
	}

	// Single read, before any write this call may make.
	sticky, err := p.store.LastProtocol(ctx)
	if err != nil {
		return domain.Intent{}, fmt.Errorf("read session: %w", err)
	}

	intent := domain.Intent{Tokens: tokens}
	var explicit, inBanner bool
	residual := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		// Banner text never selects a protocol.
		if !explicit && !inBanner {
			if proto, ok := domain.ParseProtocol(tok); ok {
				intent.Protocol = proto
				explicit = true
				continue
			}
		}
		if !intent.Target.IsValid() {
			if addr, ok := parseIPv4(tok); ok {
				intent.Target = addr
				continue
			}
		}
		residual = append(residual, tok)
		if len(residual) == 1 && strings.EqualFold(tok, "motd") {
			inBanner = true
		}
	}

	if explicit {
		if err := p.store.SetLastProtocol(ctx, intent.Protocol); err != nil {
			return domain.Intent{}, fmt.Errorf("write session: %w", err)
		}
	}

	if len(residual) == 0 {
		if explicit {
			return intent, nil
		}
		return domain.Intent{}, ErrNoCommand
	}

	action, banner, ok := parseAction(residual)
	if !ok {
		return domain.Intent{}, ErrUnknownCommand
	}
	intent.Action = action
	intent.Banner = banner

	if action.RequiresProtocol() {
		if !explicit {
			intent.Protocol = sticky
		}
		if intent.Protocol == domain.ProtocolNone {
			return domain.Intent{}, ErrNoProtocolSelected
		}
	}
	if !intent.Target.IsValid() {
		return domain.Intent{}, ErrMissingAddress
	}
	return intent, nil
}

func (p *Parser) stripPrefix(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == p.prefix {
		return "", true
	}
	if !strings.HasPrefix(text, p.prefix+" ") {
		return "", false
	}
	return text[len(p.prefix)+1:], true
}

func parseAction(residual []string) (domain.Action, string, bool) {
	switch name := strings.ToLower(residual[0]); name {
	case "create", "delete", "enable", "disable", "status":
		return domain.Action(name), "", true
	case "gigabit_status":
		return domain.ActionInterfaceSummary, "", true
	case "showrun":
		return domain.ActionShowRunningConfig, "", true
	case "motd":
		if len(residual) == 1 {
			return domain.ActionGetBanner, "", true
		}
		return domain.ActionSetBanner, strings.Join(residual[1:], " "), true
	}
	return domain.ActionNone, "", false
}

// parseIPv4 accepts only dotted-quad IPv4 literals.
func parseIPv4(tok string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(tok)
	if err != nil || !addr.Is4() {
		return netip.Addr{}, false
	}
	return addr, true
}
