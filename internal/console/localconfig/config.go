/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package localconfig

import (
	"path/filepath"
	"time"

	"github.com/hyperledger/fabric-console/common/viperutil"
	"github.com/hyperledger/fabric-console/internal/membership"
	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"github.com/pkg/errors"
)

var logger = flogging.MustGetLogger("localconfig")

// Prefix is the upper-cased stem of the environment overrides, as in
// CONSOLE_GENERAL_LISTENADDRESS.
const Prefix = "console"

// TopLevel directly corresponds to the console config YAML.
type TopLevel struct {
	General    General
	Operations Operations
	Store      Store
	Ledger     Ledger
	Identities []Identity
	Members    Members
	Notify     Notify
}

// General contains config which should be common among all consoles.
type General struct {
	ListenAddress    string
	ConsoleURL       string
	InactivityWindow time.Duration
	MaxRetries       int
	TLS              TLS
	LogSpec          string
	LogFormat        string
}

// TLS contains configuration for the HTTP listener.
type TLS struct {
	Enabled            bool
	CertFile           string
	KeyFile            string
	ClientAuthRequired bool
	ClientRootCAs      []string
}

// Operations configures metrics.
type Operations struct {
	MetricsProvider string
}

// Store selects the persistence backend. Type is one of memory, leveldb,
// badger, sqlite or postgres.
type Store struct {
	Type string
	Path string
	DSN  string
}

// Endpoint is an orderer or peer address.
type Endpoint struct {
	Address            string
	ServerNameOverride string
}

// Ledger contains the network endpoints and the gRPC client settings.
type Ledger struct {
	Orderers    []Endpoint
	Peers       []Endpoint
	DialTimeout time.Duration
	TLS         ClientTLS
}

// ClientTLS contains TLS settings for connections to the network.
type ClientTLS struct {
	Enabled     bool
	RootCAs     []string
	Certificate string
	PrivateKey  string
}

// Identity is a signing identity held by this console.
type Identity struct {
	MSPID    string
	CertFile string
	KeyFile  string
}

// Members configures the membership directory.
type Members struct {
	Static     []membership.Member
	CacheTTL   time.Duration
	CacheBytes int
}

// Notify configures the notification bus and its sinks.
type Notify struct {
	QueueSize       int
	Workers         int
	DeliveryTimeout time.Duration
	Log             bool
	Kafka           Kafka
	Redis           Redis
}

type Kafka struct {
	Enabled bool
	Brokers []string
	Topic   string
	Version string
}

type Redis struct {
	Enabled bool
	URL     string
	Stream  string
	MaxLen  int64
}

// Defaults carries the default console configuration values.
var Defaults = TopLevel{
	General: General{
		ListenAddress:    "127.0.0.1:3000",
		InactivityWindow: 30 * 24 * time.Hour,
		MaxRetries:       10,
		LogSpec:          "INFO",
		LogFormat:        "%{color}%{time:2006-01-02 15:04:05.000 MST} [%{module}] %{shortfunc} -> %{level:.4s} %{id:03x}%{color:reset} %{message}",
	},
	Operations: Operations{
		MetricsProvider: "disabled",
	},
	Store: Store{
		Type: "memory",
	},
	Ledger: Ledger{
		DialTimeout: 3 * time.Second,
	},
	Members: Members{
		CacheTTL:   5 * time.Minute,
		CacheBytes: 32 * 1024 * 1024,
	},
	Notify: Notify{
		QueueSize:       1000,
		Workers:         4,
		DeliveryTimeout: 5 * time.Second,
		Log:             true,
		Kafka: Kafka{
			Topic:   "console-events",
			Version: "0.10.2.0",
		},
		Redis: Redis{
			Stream: "console-events",
			MaxLen: 10000,
		},
	},
}

// Load parses console.yaml from the configuration search path and the
// environment.
func Load() (*TopLevel, error) {
	return load("")
}

// LoadFile parses the given configuration file and the environment.
func LoadFile(file string) (*TopLevel, error) {
	return load(file)
}

func load(file string) (*TopLevel, error) {
	config := viperutil.New()
	config.SetConfigName(Prefix)
	if file != "" {
		config.SetConfigFile(file)
	} else {
		config.AddConfigPaths(viperutil.ConfigPaths()...)
	}

	if err := config.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "error reading configuration from %s", config.ConfigFileUsed())
	}

	var uconf TopLevel
	if err := config.EnhancedExactUnmarshal(&uconf); err != nil {
		return nil, errors.Wrap(err, "error unmarshalling config into struct")
	}

	uconf.completeInitialization(filepath.Dir(config.ConfigFileUsed()))
	return &uconf, nil
}

func translate(base string, p *string) {
	if *p != "" && !filepath.IsAbs(*p) {
		*p = filepath.Join(base, *p)
	}
}

func (c *TopLevel) completeInitialization(configDir string) {
	defer func() {
		translate(configDir, &c.General.TLS.CertFile)
		translate(configDir, &c.General.TLS.KeyFile)
		for i := range c.General.TLS.ClientRootCAs {
			translate(configDir, &c.General.TLS.ClientRootCAs[i])
		}
		for i := range c.Ledger.TLS.RootCAs {
			translate(configDir, &c.Ledger.TLS.RootCAs[i])
		}
		translate(configDir, &c.Ledger.TLS.Certificate)
		translate(configDir, &c.Ledger.TLS.PrivateKey)
		for i := range c.Identities {
			translate(configDir, &c.Identities[i].CertFile)
			translate(configDir, &c.Identities[i].KeyFile)
		}
		if c.Store.Type == "leveldb" || c.Store.Type == "badger" || c.Store.Type == "sqlite" {
			translate(configDir, &c.Store.Path)
		}
	}()

	for {
		switch {
		case c.General.ListenAddress == "":
			logger.Infof("General.ListenAddress unset, setting to %s", Defaults.General.ListenAddress)
			c.General.ListenAddress = Defaults.General.ListenAddress
		case c.General.InactivityWindow == 0:
			logger.Infof("General.InactivityWindow unset, setting to %s", Defaults.General.InactivityWindow)
			c.General.InactivityWindow = Defaults.General.InactivityWindow
		case c.General.MaxRetries == 0:
			c.General.MaxRetries = Defaults.General.MaxRetries
		case c.General.LogSpec == "":
			c.General.LogSpec = Defaults.General.LogSpec
		case c.General.LogFormat == "":
			c.General.LogFormat = Defaults.General.LogFormat
		case c.Operations.MetricsProvider == "":
			c.Operations.MetricsProvider = Defaults.Operations.MetricsProvider
		case c.Store.Type == "":
			logger.Infof("Store.Type unset, setting to %s", Defaults.Store.Type)
			c.Store.Type = Defaults.Store.Type
		case c.Ledger.DialTimeout == 0:
			c.Ledger.DialTimeout = Defaults.Ledger.DialTimeout
		case c.Members.CacheBytes == 0:
			c.Members.CacheBytes = Defaults.Members.CacheBytes
		case c.Notify.QueueSize == 0:
			c.Notify.QueueSize = Defaults.Notify.QueueSize
		case c.Notify.Workers == 0:
			c.Notify.Workers = Defaults.Notify.Workers
		case c.Notify.DeliveryTimeout == 0:
			c.Notify.DeliveryTimeout = Defaults.Notify.DeliveryTimeout
		case c.Notify.Kafka.Enabled && c.Notify.Kafka.Topic == "":
			c.Notify.Kafka.Topic = Defaults.Notify.Kafka.Topic
		case c.Notify.Kafka.Enabled && c.Notify.Kafka.Version == "":
			c.Notify.Kafka.Version = Defaults.Notify.Kafka.Version
		case c.Notify.Redis.Enabled && c.Notify.Redis.Stream == "":
			c.Notify.Redis.Stream = Defaults.Notify.Redis.Stream
		default:
			return
		}
	}
}
