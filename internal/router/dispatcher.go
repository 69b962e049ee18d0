// Package router connects the parser to the backend adapters: the Dispatcher
// maps a validated Intent to one adapter operation, Normalize turns the
// result into a chat reply, and Loop drives a transport end to end.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"runtime/debug"
	"time"

	"netopsbot/internal/domain"
	"netopsbot/internal/metrics"
)

// GenericFailure is sent when an adapter errors or returns no message.
const GenericFailure = "Error: operation failed."

type route struct {
	protocol domain.Protocol
	action   domain.Action
}

type operation func(ctx context.Context, intent domain.Intent) (domain.BackendResult, error)

// DispatcherConfig holds the adapters the routing table is built from.
// A nil adapter leaves its routes out of the table.
type DispatcherConfig struct {
	Config   map[domain.Protocol]domain.ConfigBackend
	CLI      domain.CLIBackend
	Playbook domain.PlaybookBackend
	Logger   *slog.Logger
}

// Dispatcher is stateless once built and safe for concurrent use.
type Dispatcher struct {
	routes map[route]operation
	logger *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	d := &Dispatcher{
		routes: make(map[route]operation),
		logger: cfg.Logger,
	}

	for proto, b := range cfg.Config {
		if b == nil {
			continue
		}
		d.routes[route{proto, domain.ActionCreate}] = targetOp(b.Create)
		d.routes[route{proto, domain.ActionDelete}] = targetOp(b.Delete)
		d.routes[route{proto, domain.ActionEnable}] = targetOp(b.Enable)
		d.routes[route{proto, domain.ActionDisable}] = targetOp(b.Disable)
		d.routes[route{proto, domain.ActionStatus}] = targetOp(b.Status)
	}

	if cfg.CLI != nil {
		d.routes[route{domain.ProtocolNone, domain.ActionInterfaceSummary}] = targetOp(cfg.CLI.InterfaceSummary)
	}
	if cfg.Playbook != nil {
		d.routes[route{domain.ProtocolNone, domain.ActionShowRunningConfig}] = targetOp(cfg.Playbook.ArchiveConfig)
		d.routes[route{domain.ProtocolNone, domain.ActionSetBanner}] = func(ctx context.Context, in domain.Intent) (domain.BackendResult, error) {
			return cfg.Playbook.SetBanner(ctx, in.Target, in.Banner)
		}
		d.routes[route{domain.ProtocolNone, domain.ActionGetBanner}] = d.bannerWithFallback(cfg.Playbook, cfg.CLI)
	} else if cfg.CLI != nil {
		d.routes[route{domain.ProtocolNone, domain.ActionGetBanner}] = targetOp(cfg.CLI.FetchBanner)
	}
	return d
}

func targetOp(fn func(context.Context, netip.Addr) (domain.BackendResult, error)) operation {
	return func(ctx context.Context, in domain.Intent) (domain.BackendResult, error) {
		return fn(ctx, in.Target)
	}
}

// bannerWithFallback reads the banner through the playbook runner and, when
// that errors, over the CLI session.
func (d *Dispatcher) bannerWithFallback(pb domain.PlaybookBackend, cli domain.CLIBackend) operation {
	return func(ctx context.Context, in domain.Intent) (domain.BackendResult, error) {
		res, err := pb.FetchBanner(ctx, in.Target)
		if err == nil || cli == nil {
			return res, err
		}
		d.logger.Warn("playbook banner read failed, falling back to cli", "target", in.Target, "err", err)
		return cli.FetchBanner(ctx, in.Target)
	}
}

// Dispatch runs the intent and returns the reply for the room. It never
// fails: adapter errors become a generic failure text.
func (d *Dispatcher) Dispatch(ctx context.Context, intent domain.Intent) domain.ChatResponse {
	if intent.IsAck() {
		return domain.ChatResponse{Text: "Ok: " + string(intent.Protocol)}
	}
	return Normalize(d.Execute(ctx, intent))
}

// Execute invokes the routed adapter operation and returns its result.
func (d *Dispatcher) Execute(ctx context.Context, intent domain.Intent) (result domain.BackendResult) {
	key := route{domain.ProtocolNone, intent.Action}
	if intent.Action.RequiresProtocol() {
		key.protocol = intent.Protocol
	}

	op, ok := d.routes[key]
	if !ok {
		d.logger.Error("no route for intent", "protocol", intent.Protocol, "action", intent.Action)
		return domain.Failed(GenericFailure)
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("backend panic",
				"protocol", key.protocol,
				"action", intent.Action,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			result = domain.Failed(GenericFailure)
		}
		metrics.CommandDispatched(string(key.protocol), string(intent.Action), result.Success, time.Since(start))
	}()

	res, err := op(ctx, intent)
	if err != nil {
		d.logger.Error("backend operation failed",
			"protocol", key.protocol,
			"action", intent.Action,
			"target", intent.Target,
			"err", err,
		)
		return domain.Failed(GenericFailure)
	}
	if !res.Success {
		res.AttachmentPath = ""
		if res.Message == "" {
			res.Message = GenericFailure
		}
	}
	d.logger.Info("command dispatched",
		"protocol", key.protocol,
		"action", intent.Action,
		"target", intent.Target,
		"success", res.Success,
		"duration", time.Since(start),
	)
	return res
}
