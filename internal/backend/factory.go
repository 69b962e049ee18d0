package backend

import (
	"log/slog"
	"time"

	"netopsbot/internal/config"
	"netopsbot/internal/domain"
)

// Set is every adapter the dispatcher needs, built from one config.
type Set struct {
	RESTCONF *RESTCONF
	NETCONF  *NETCONF
	CLI      *SSHCLI
	Playbook *Playbook
}

// ConfigBackends returns the protocol-specific adapters keyed by protocol.
func (s *Set) ConfigBackends() map[domain.Protocol]domain.ConfigBackend {
	return map[domain.Protocol]domain.ConfigBackend{
		domain.ProtocolRESTCONF: s.RESTCONF,
		domain.ProtocolNETCONF:  s.NETCONF,
	}
}

func New(cfg *config.Config, extractor domain.Extractor, logger *slog.Logger) (*Set, error) {
	hostKey, err := HostKeyCallback(cfg.SSH.KnownHostsFile, cfg.SSH.InsecureHostKey)
	if err != nil {
		return nil, err
	}

	creds := Credentials{Username: cfg.Device.Username, Password: cfg.Device.Password}
	loopback := Loopback{
		ID:          cfg.General.DeviceID,
		Name:        cfg.LoopbackName(),
		Description: cfg.Device.Loopback.Description,
		IP:          cfg.Device.Loopback.IP,
		Netmask:     cfg.Device.Loopback.Netmask,
	}

	pb := cfg.Playbook
	return &Set{
		RESTCONF: NewRESTCONF(RESTCONFConfig{
			Credentials: creds,
			Scheme:      cfg.RESTCONF.Scheme,
			Port:        cfg.RESTCONF.Port,
			InsecureTLS: cfg.RESTCONF.InsecureTLS,
			Timeout:     seconds(cfg.RESTCONF.TimeoutSeconds),
			Loopback:    loopback,
			Logger:      logger,
		}),
		NETCONF: NewNETCONF(NETCONFConfig{
			Credentials:     creds,
			Port:            cfg.NETCONF.Port,
			Timeout:         seconds(cfg.NETCONF.TimeoutSeconds),
			HostKeyCallback: hostKey,
			Loopback:        loopback,
			Logger:          logger,
		}),
		CLI: NewSSHCLI(SSHCLIConfig{
			Credentials:     creds,
			Port:            cfg.SSH.Port,
			Timeout:         seconds(cfg.SSH.TimeoutSeconds),
			HostKeyCallback: hostKey,
			Extractor:       extractor,
			Logger:          logger,
		}),
		Playbook: NewPlaybook(PlaybookConfig{
			Binary:            pb.Binary,
			Dir:               pb.Dir,
			InventoryTemplate: pb.InventoryTemplate,
			AnsibleConfig:     pb.AnsibleConfig,
			BackupFile:        pb.BackupFile,
			BackupPlaybook:    pb.BackupPlaybook,
			MotdGetPlaybook:   pb.MotdGetPlaybook,
			MotdSetPlaybook:   pb.MotdSetPlaybook,
			Timeout:           seconds(pb.TimeoutSeconds),
			MaxOutputBytes:    pb.MaxOutputBytes,
			Extractor:         extractor,
			Logger:            logger,
		}),
	}, nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
