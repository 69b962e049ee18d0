package backend

import (
	"testing"

	"netopsbot/internal/config"
	"netopsbot/internal/domain"
	"netopsbot/internal/extract"
)

func TestNew_FromDefaults(t *testing.T) {
	cfg := config.Defaults()
	ext, _ := extract.New("", nil)

	set, err := New(cfg, ext, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	backends := set.ConfigBackends()
	if backends[domain.ProtocolRESTCONF].Name() != "restconf" || backends[domain.ProtocolNETCONF].Name() != "netconf" {
		t.Fatalf("unexpected config backends: %v", backends)
	}
	if set.RESTCONF.cfg.Loopback.Name != "Loopback66070112" || set.RESTCONF.cfg.Loopback.ID != "66070112" {
		t.Fatalf("loopback not derived from device id: %+v", set.RESTCONF.cfg.Loopback)
	}
	if set.NETCONF.cfg.Port != 830 {
		t.Fatalf("expected netconf port 830, got %d", set.NETCONF.cfg.Port)
	}
}

func TestNew_RequiresHostKeyPolicy(t *testing.T) {
	cfg := config.Defaults()
	cfg.SSH.InsecureHostKey = false
	if _, err := New(cfg, nil, nil); err == nil {
		t.Fatal("expected error without host key policy")
	}
}
