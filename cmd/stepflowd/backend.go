package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/xraph/stepflow/cluster"
	"github.com/xraph/stepflow/cluster/k8s"
	"github.com/xraph/stepflow/store"
	bunstore "github.com/xraph/stepflow/store/bun"
	"github.com/xraph/stepflow/store/memory"
	mongostore "github.com/xraph/stepflow/store/mongo"
	"github.com/xraph/stepflow/store/postgres"
	redisstore "github.com/xraph/stepflow/store/redis"
)

const defaultMongoDatabase = "stepflow"

// backend is an opened store together with the client that backs it.
// Stores that borrow their client never close it, so close releases
// the client as well.
type backend struct {
	store.Store
	close func() error
}

// Close releases the store and its client.
func (b *backend) Close() error {
	return errors.Join(b.Store.Close(), b.close())
}

func noClose() error { return nil }

// openBackend connects to the configured store.
func openBackend(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (*backend, error) {
	switch cfg.Backend {
	case "memory":
		return &backend{Store: memory.New(), close: noClose}, nil

	case "redis":
		opts, err := goredis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		storeOpts := []redisstore.Option{redisstore.WithLogger(logger)}
		if cfg.Prefix != "" {
			storeOpts = append(storeOpts, redisstore.WithPrefix(cfg.Prefix))
		}
		return &backend{Store: redisstore.New(client, storeOpts...), close: client.Close}, nil

	case "postgres":
		st, err := postgres.New(ctx, cfg.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return &backend{Store: st, close: noClose}, nil

	case "bun":
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
		db := bun.NewDB(sqldb, pgdialect.New())
		return &backend{Store: bunstore.New(db, bunstore.WithLogger(logger)), close: db.Close}, nil

	case "mongo":
		client, err := mongod.Connect(options.Client().ApplyURI(cfg.DSN))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		name := cfg.Database
		if name == "" {
			name = defaultMongoDatabase
		}
		st := mongostore.New(client.Database(name), mongostore.WithLogger(logger))
		return &backend{Store: st, close: func() error {
			return client.Disconnect(context.Background())
		}}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// openClusterStore builds the Kubernetes registry provider. It returns
// nil when no cluster block is configured.
func openClusterStore(cfg *ClusterConfig, logger *slog.Logger) (cluster.Store, error) {
	if cfg == nil || cfg.Kubernetes == nil {
		return nil, nil
	}
	kc := cfg.Kubernetes
	// An empty kubeconfig path falls back to the in-cluster config.
	restCfg, err := clientcmd.BuildConfigFromFlags("", kc.Kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("kubernetes config: %w", err)
	}
	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("kubernetes client: %w", err)
	}
	opts := []k8s.Option{k8s.WithLogger(logger)}
	if kc.LeaseName != "" {
		opts = append(opts, k8s.WithLeaseName(kc.LeaseName))
	}
	if kc.LabelSelector != "" {
		opts = append(opts, k8s.WithLabelSelector(kc.LabelSelector))
	}
	return k8s.New(client, kc.Namespace, opts...), nil
}
