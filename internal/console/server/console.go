/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package server

import (
	"context"
	"os"

	"code.cloudfoundry.org/clock"
	"github.com/Shopify/sarama"
	"github.com/hyperledger/fabric-console/common/ledger/util/badgerdbhelper"
	"github.com/hyperledger/fabric-console/internal/approval"
	"github.com/hyperledger/fabric-console/internal/console/localconfig"
	"github.com/hyperledger/fabric-console/internal/console/restapi"
	"github.com/hyperledger/fabric-console/internal/ledger/fabric"
	"github.com/hyperledger/fabric-console/internal/membership"
	"github.com/hyperledger/fabric-console/internal/notify"
	"github.com/hyperledger/fabric-console/internal/pkg/comm"
	"github.com/hyperledger/fabric-console/internal/pkg/identity"
	"github.com/hyperledger/fabric-console/internal/proposal"
	"github.com/hyperledger/fabric-console/internal/store"
	"github.com/hyperledger/fabric-console/internal/store/badgerstore"
	"github.com/hyperledger/fabric-console/internal/store/leveldbstore"
	"github.com/hyperledger/fabric-console/internal/store/sqlstore"
	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"github.com/hyperledger/fabric-lib-go/common/metrics"
	"github.com/hyperledger/fabric-lib-go/common/metrics/disabled"
	"github.com/hyperledger/fabric-lib-go/common/metrics/prometheus"
	"github.com/hyperledger/fabric-lib-go/healthz"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var logger = flogging.MustGetLogger("console.server")

// Backend is a store that can report its health.
type Backend interface {
	store.Store
	healthz.HealthChecker
}

// Console is a fully wired signature collection service.
type Console struct {
	HTTP         *HTTPServer
	Manager      *approval.Manager
	Orchestrator *proposal.Orchestrator
	Store        Backend
	Bus          *notify.Bus
	Provider     metrics.Provider

	healthHandler *healthz.HealthHandler
	closers       []func() error
}

// New assembles a console from its configuration. Nothing listens until
// Run is called.
func New(conf *localconfig.TopLevel) (*Console, error) {
	c := &Console{
		HTTP: NewHTTPServer(Options{
			Logger:        logger,
			ListenAddress: conf.General.ListenAddress,
			TLS: TLS{
				Enabled:            conf.General.TLS.Enabled,
				CertFile:           conf.General.TLS.CertFile,
				KeyFile:            conf.General.TLS.KeyFile,
				ClientCertRequired: conf.General.TLS.ClientAuthRequired,
				ClientCACertFiles:  conf.General.TLS.ClientRootCAs,
			},
		}),
	}

	c.initializeHealthCheckHandler()
	c.initializeMetricsProvider(conf.Operations.MetricsProvider)

	if err := c.build(conf); err != nil {
		c.close()
		return nil, err
	}
	return c, nil
}

func (c *Console) build(conf *localconfig.TopLevel) error {
	st, err := openStore(conf.Store)
	if err != nil {
		return err
	}
	c.Store = st
	if closer, ok := st.(interface{ Close() error }); ok {
		c.closers = append(c.closers, closer.Close)
	}
	if err := c.healthHandler.RegisterChecker("store", st); err != nil {
		return err
	}

	identities, err := loadIdentities(conf.Identities)
	if err != nil {
		return err
	}

	lc, err := newLedgerClient(conf.Ledger)
	if err != nil {
		return err
	}

	dir, err := newDirectory(conf.Members, st)
	if err != nil {
		return err
	}

	bus, sinkClosers, err := newBus(conf.Notify, c.Provider)
	if err != nil {
		return err
	}
	c.Bus = bus
	c.closers = append(c.closers, sinkClosers...)
	c.closers = append(c.closers, func() error { bus.Stop(); return nil })

	c.Manager = approval.NewManager(
		approval.Config{
			ConsoleURL:       conf.General.ConsoleURL,
			InactivityWindow: conf.General.InactivityWindow,
			MaxRetries:       conf.General.MaxRetries,
		},
		st, lc, dir, bus, clock.NewClock(), c.Provider,
	)
	c.Orchestrator = &proposal.Orchestrator{
		Manager:   c.Manager,
		Ledger:    lc,
		Directory: dir,
	}

	c.HTTP.RegisterHandler(restapi.URLBaseV1, restapi.NewHTTPHandler(c.Manager, c.Orchestrator, identities), true)
	return nil
}

func (c *Console) initializeHealthCheckHandler() {
	c.healthHandler = healthz.NewHealthHandler()
	c.HTTP.RegisterHandler("/healthz", c.healthHandler, false)
}

func (c *Console) initializeMetricsProvider(providerType string) {
	switch providerType {
	case "prometheus":
		c.Provider = &prometheus.Provider{}
		c.HTTP.RegisterHandler("/metrics", promhttp.Handler(), false)
	default:
		if providerType != "disabled" {
			logger.Warnf("Unknown provider type: %s; metrics disabled", providerType)
		}
		c.Provider = &disabled.Provider{}
	}
}

// RegisterChecker adds a component to the /healthz report.
func (c *Console) RegisterChecker(component string, checker healthz.HealthChecker) error {
	return c.healthHandler.RegisterChecker(component, checker)
}

// Run serves the console until signalled, then releases its resources.
func (c *Console) Run(signals <-chan os.Signal, ready chan<- struct{}) error {
	defer c.close()
	return c.HTTP.Run(signals, ready)
}

func (c *Console) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			logger.Warnf("Failed releasing console resource: %s", err)
		}
	}
	c.closers = nil
}

type closingBackend struct {
	Backend
	close func()
}

func (b closingBackend) Close() error {
	b.close()
	return nil
}

func openStore(conf localconfig.Store) (Backend, error) {
	switch conf.Type {
	case "", "memory":
		return store.NewMemStore(), nil
	case "leveldb":
		s, err := leveldbstore.Open(conf.Path)
		if err != nil {
			return nil, err
		}
		return closingBackend{Backend: s, close: s.Close}, nil
	case "badger":
		s, err := badgerstore.Open(&badgerdbhelper.Conf{DBPath: conf.Path})
		if err != nil {
			return nil, err
		}
		return closingBackend{Backend: s, close: s.Close}, nil
	case sqlstore.DialectSQLite:
		return sqlstore.Open(sqlstore.DialectSQLite, conf.Path)
	case sqlstore.DialectPostgres:
		return sqlstore.Open(sqlstore.DialectPostgres, conf.DSN)
	default:
		return nil, errors.Errorf("unknown store type '%s'", conf.Type)
	}
}

func loadIdentities(confs []localconfig.Identity) ([]identity.MSPSigner, error) {
	var identities []identity.MSPSigner
	for _, ic := range confs {
		id, err := identity.LoadLocal(ic.MSPID, ic.CertFile, ic.KeyFile)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to load identity for %s", ic.MSPID)
		}
		identities = append(identities, id)
	}
	return identities, nil
}

func newLedgerClient(conf localconfig.Ledger) (*fabric.Client, error) {
	clientConfig := comm.ClientConfig{
		KaOpts:      comm.DefaultKeepaliveOptions,
		DialTimeout: conf.DialTimeout,
		SecOpts: comm.SecureOptions{
			UseTLS: conf.TLS.Enabled,
		},
	}
	if conf.TLS.Enabled {
		for _, path := range conf.TLS.RootCAs {
			pem, err := os.ReadFile(path)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to read root ca %s", path)
			}
			clientConfig.SecOpts.ServerRootCAs = append(clientConfig.SecOpts.ServerRootCAs, pem)
		}
		if conf.TLS.Certificate != "" {
			cert, err := os.ReadFile(conf.TLS.Certificate)
			if err != nil {
				return nil, errors.Wrap(err, "failed to read client certificate")
			}
			key, err := os.ReadFile(conf.TLS.PrivateKey)
			if err != nil {
				return nil, errors.Wrap(err, "failed to read client key")
			}
			clientConfig.SecOpts.Certificate = cert
			clientConfig.SecOpts.Key = key
			clientConfig.SecOpts.RequireClientCert = true
		}
	}

	return fabric.NewClient(clientConfig, endpoints(conf.Orderers), endpoints(conf.Peers))
}

func endpoints(confs []localconfig.Endpoint) []fabric.Endpoint {
	var result []fabric.Endpoint
	for _, e := range confs {
		result = append(result, fabric.Endpoint{Address: e.Address, ServerNameOverride: e.ServerNameOverride})
	}
	return result
}

// newDirectory seeds the configured members into the store and resolves
// members from there, through a cache when a TTL is set.
func newDirectory(conf localconfig.Members, st store.Store) (membership.Directory, error) {
	sd := &membership.StoreDirectory{Store: st}
	for _, m := range conf.Static {
		if err := sd.Put(context.Background(), m); err != nil {
			return nil, errors.WithMessagef(err, "failed to seed member %s", m.MSPID)
		}
	}
	if conf.CacheTTL <= 0 {
		return sd, nil
	}
	return membership.NewCached(sd, conf.CacheTTL, conf.CacheBytes, clock.NewClock()), nil
}

// newBus returns the bus with its sinks subscribed and the functions
// releasing those sinks.
func newBus(conf localconfig.Notify, provider metrics.Provider) (*notify.Bus, []func() error, error) {
	var sinks []notify.Sink
	var closers []func() error
	fail := func(err error) (*notify.Bus, []func() error, error) {
		for _, c := range closers {
			c()
		}
		return nil, nil, err
	}
	if conf.Log {
		sinks = append(sinks, &notify.LogSink{Logger: flogging.MustGetLogger("console.events")})
	}
	if conf.Kafka.Enabled {
		version, err := sarama.ParseKafkaVersion(conf.Kafka.Version)
		if err != nil {
			return fail(errors.Wrapf(err, "invalid kafka version '%s'", conf.Kafka.Version))
		}
		ks, err := notify.NewKafkaSink(conf.Kafka.Brokers, conf.Kafka.Topic, version)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, ks)
		closers = append(closers, ks.Close)
	}
	if conf.Redis.Enabled {
		rs, err := notify.NewRedisSink(conf.Redis.URL, conf.Redis.Stream, conf.Redis.MaxLen)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, rs)
		closers = append(closers, rs.Close)
	}

	bus := notify.NewBus(notify.BusConfig{
		QueueSize:       conf.QueueSize,
		Workers:         conf.Workers,
		DeliveryTimeout: conf.DeliveryTimeout,
		MetricsProvider: provider,
	})
	for _, s := range sinks {
		bus.Subscribe(s)
	}
	return bus, closers, nil
}
