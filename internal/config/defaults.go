package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DeviceID: "66070112",
			LogLevel: "info",
		},
		Device: DeviceConfig{
			Username: "admin",
			Loopback: LoopbackConfig{
				IP:      "172.1.12.1",
				Netmask: "255.255.255.0",
			},
		},
		RESTCONF: RESTCONFConfig{
			Scheme:         "https",
			InsecureTLS:    true,
			TimeoutSeconds: 30,
		},
		NETCONF: NETCONFConfig{
			Port:           830,
			TimeoutSeconds: 30,
		},
		SSH: SSHConfig{
			Port:            22,
			TimeoutSeconds:  30,
			InsecureHostKey: true,
		},
		Playbook: PlaybookConfig{
			Binary:            "ansible-playbook",
			Dir:               "~/.netopsbot/ansible",
			InventoryTemplate: "host",
			AnsibleConfig:     "ansible.cfg",
			BackupFile:        "backups/show_run_66070112_CSRv1000.txt",
			BackupPlaybook:    "playbooks/backup_cisco_router_playbook.yml",
			MotdGetPlaybook:   "playbooks/motd_get_cisco_router_playbook.yml",
			MotdSetPlaybook:   "playbooks/motd_set_cisco_router_playbook.yml",
			TimeoutSeconds:    120,
			MaxOutputBytes:    65536,
		},
		Session: SessionConfig{
			Backend: "memory",
			DBPath:  "~/.netopsbot/session.db",
		},
		Channel: ChannelConfig{
			Type: "cli",
			Webex: WebexConfig{
				APIBase:             "https://webexapis.com/v1",
				PollIntervalSeconds: 1,
			},
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Addr:     "127.0.0.1:9100",
			Endpoint: "/metrics",
		},
	}
}

// Template returns the config written by "netopsbot init": Defaults with
// secrets left as ${VAR} placeholders so they never land on disk.
func Template() *Config {
	cfg := Defaults()
	cfg.Device.Username = "${DEVICE_USERNAME:-admin}"
	cfg.Device.Password = "${DEVICE_PASSWORD}"
	cfg.Channel.Type = "webex"
	cfg.Channel.Webex.Token = "${ACCESS_TOKEN}"
	cfg.Channel.Webex.RoomID = "${ROOM_ID}"
	cfg.Channel.Telegram.Token = "${TELEGRAM_TOKEN}"
	cfg.Channel.Slack.BotToken = "${SLACK_BOT_TOKEN}"
	cfg.Channel.Slack.AppToken = "${SLACK_APP_TOKEN}"
	cfg.Channel.Discord.Token = "${DISCORD_TOKEN}"
	cfg.Channel.Matrix.AccessToken = "${MATRIX_ACCESS_TOKEN}"
	return cfg
}
