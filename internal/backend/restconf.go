package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"netopsbot/internal/domain"
)

const yangJSON = "application/yang-data+json"

type RESTCONFConfig struct {
	Credentials Credentials
	Scheme      string // "https" by default
	Port        int    // 0: scheme default
	InsecureTLS bool
	Timeout     time.Duration
	Loopback    Loopback
	Logger      *slog.Logger
}

// RESTCONF manages the loopback through the ietf-interfaces YANG model.
type RESTCONF struct {
	cfg    RESTCONFConfig
	client *http.Client
	logger *slog.Logger

	// baseURL returns the RESTCONF root for a target, ending in "/restconf/".
	baseURL func(target netip.Addr) string
}

var _ domain.ConfigBackend = (*RESTCONF)(nil)

func NewRESTCONF(cfg RESTCONFConfig) *RESTCONF {
	if cfg.Scheme == "" {
		cfg.Scheme = "https"
	}
	if cfg.Loopback.Description == "" {
		cfg.Loopback.Description = "Created via RESTCONF"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := &RESTCONF{
		cfg:    cfg,
		client: newHTTPClient(cfg.Timeout, cfg.InsecureTLS),
		logger: cfg.Logger.With("backend", "restconf"),
	}
	r.baseURL = r.defaultBaseURL
	return r
}

func (r *RESTCONF) Name() string { return string(domain.ProtocolRESTCONF) }

func (r *RESTCONF) defaultBaseURL(target netip.Addr) string {
	host := target.String()
	if r.cfg.Port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(r.cfg.Port))
	}
	return fmt.Sprintf("%s://%s/restconf/", r.cfg.Scheme, host)
}

func (r *RESTCONF) interfaceURL(target netip.Addr) string {
	return r.baseURL(target) + "data/ietf-interfaces:interfaces/interface=" + r.cfg.Loopback.Name
}

func (r *RESTCONF) Create(ctx context.Context, target netip.Addr) (domain.BackendResult, error) {
	lo := r.cfg.Loopback
	payload := map[string]any{
		"ietf-interfaces:interface": map[string]any{
			"name":        lo.Name,
			"description": lo.Description,
			"type":        "iana-if-type:softwareLoopback",
			"ietf-ip:ipv4": map[string]any{
				"address": []map[string]string{{"ip": lo.IP, "netmask": lo.Netmask}},
			},
		},
	}

	status, _, err := r.do(ctx, http.MethodPost, r.baseURL(target)+"data/ietf-interfaces:interfaces", payload)
	if err != nil {
		return domain.BackendResult{}, err
	}
	switch {
	case is2xx(status):
		return domain.Ok(fmt.Sprintf("Interface %s created successfully.", lo.ID)), nil
	case status == http.StatusConflict:
		return domain.Failed(fmt.Sprintf("Cannot create: Interface loopback %s : Interface %s already exists.", lo.ID, lo.ID)), nil
	default:
		return domain.Failed("Create failed."), nil
	}
}

func (r *RESTCONF) Delete(ctx context.Context, target netip.Addr) (domain.BackendResult, error) {
	status, _, err := r.do(ctx, http.MethodDelete, r.interfaceURL(target), nil)
	if err != nil {
		return domain.BackendResult{}, err
	}
	if is2xx(status) {
		return domain.Ok(fmt.Sprintf("Interface Loopback %s deleted successfully.", r.cfg.Loopback.ID)), nil
	}
	return domain.Failed(fmt.Sprintf("Cannot delete: Interface loopback %s.", r.cfg.Loopback.ID)), nil
}

func (r *RESTCONF) Enable(ctx context.Context, target netip.Addr) (domain.BackendResult, error) {
	ok, err := r.setEnabled(ctx, target, true)
	if err != nil {
		return domain.BackendResult{}, err
	}
	if ok {
		return domain.Ok(fmt.Sprintf("Interface loopback %s enabled successfully.", r.cfg.Loopback.ID)), nil
	}
	return domain.Failed(fmt.Sprintf("Cannot enable : Interface loopback %s.", r.cfg.Loopback.ID)), nil
}

func (r *RESTCONF) Disable(ctx context.Context, target netip.Addr) (domain.BackendResult, error) {
	ok, err := r.setEnabled(ctx, target, false)
	if err != nil {
		return domain.BackendResult{}, err
	}
	if ok {
		return domain.Ok(fmt.Sprintf("Interface loopback %s shutdowned successfully.", r.cfg.Loopback.ID)), nil
	}
	return domain.Failed(fmt.Sprintf("Cannot shutdown : Interface loopback %s.", r.cfg.Loopback.ID)), nil
}

func (r *RESTCONF) setEnabled(ctx context.Context, target netip.Addr, enabled bool) (bool, error) {
	payload := map[string]any{
		"ietf-interfaces:interface": map[string]any{
			"name":    r.cfg.Loopback.Name,
			"enabled": enabled,
		},
	}
	status, _, err := r.do(ctx, http.MethodPatch, r.interfaceURL(target), payload)
	if err != nil {
		return false, err
	}
	return is2xx(status), nil
}

func (r *RESTCONF) Status(ctx context.Context, target netip.Addr) (domain.BackendResult, error) {
	id := r.cfg.Loopback.ID
	status, body, err := r.do(ctx, http.MethodGet, r.baseURL(target)+"data/ietf-interfaces:interfaces-state", nil)
	if err != nil {
		return domain.BackendResult{}, err
	}
	switch {
	case status == http.StatusNotFound:
		return domain.Ok(fmt.Sprintf("No Interface loopback %s.", id)), nil
	case !is2xx(status):
		return domain.Failed(fmt.Sprintf("Cannot get status : Interface loopback %s.", id)), nil
	}

	query := fmt.Sprintf(`ietf-interfaces:interfaces-state.interface.#(name==%q)`, r.cfg.Loopback.Name)
	iface := gjson.GetBytes(body, query)
	if !iface.Exists() {
		return domain.Ok(fmt.Sprintf("No Interface loopback %s.", id)), nil
	}

	admin := iface.Get("admin-status").String()
	oper := iface.Get("oper-status").String()
	switch {
	case admin == "up" && oper == "up":
		return domain.Ok(fmt.Sprintf("Interface loopback %s is currently enabled.", id)), nil
	case admin == "down" && oper == "down":
		return domain.Ok(fmt.Sprintf("Interface loopback %s is currently disabled.", id)), nil
	default:
		return domain.Failed(fmt.Sprintf("Cannot get status : Interface loopback %s.", id)), nil
	}
}

// do sends one RESTCONF request. Only transport failures are returned as
// errors; HTTP status handling is left to the caller.
func (r *RESTCONF) do(ctx context.Context, method, url string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal restconf payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, fmt.Errorf("create restconf request: %w", err)
	}
	req.Header.Set("Accept", yangJSON)
	req.Header.Set("Content-Type", yangJSON)
	req.SetBasicAuth(r.cfg.Credentials.Username, r.cfg.Credentials.Password)

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("restconf %s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("read restconf response: %w", err)
	}
	r.logger.Debug("restconf request", "method", method, "url", url, "status", resp.StatusCode, "duration", time.Since(start))
	return resp.StatusCode, respBody, nil
}

func is2xx(status int) bool { return status >= 200 && status <= 299 }
