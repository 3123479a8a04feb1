// Package securestore opens the configured SecureStore backend.
package securestore

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-authgate/core"
	"github.com/trezcool/masomo-authgate/core/authgate"
	"github.com/trezcool/masomo-authgate/storage/securestore/memstore"
	"github.com/trezcool/masomo-authgate/storage/securestore/redisstore"
	"github.com/trezcool/masomo-authgate/storage/securestore/sealed"
	"github.com/trezcool/masomo-authgate/storage/securestore/sqlstore"
)

const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// Open returns the store named by conf.Driver, sealed when conf.SealKey is set.
func Open(ctx context.Context, conf core.StoreConfig) (authgate.SecureStore, error) {
	var store authgate.SecureStore
	var err error

	switch conf.Driver {
	case DriverMemory:
		store = memstore.Open()
	case sqlstore.DriverSQLite, sqlstore.DriverPostgres:
		store, err = sqlstore.Open(ctx, conf.Driver, conf.DSN)
	case DriverRedis:
		store, err = redisstore.Open(ctx, conf)
	default:
		return nil, errors.Errorf("unknown store driver %q", conf.Driver)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s store", conf.Driver)
	}

	if conf.SealKey == "" {
		return store, nil
	}
	s, err := sealed.Wrap(store, conf.SealKey)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return s, nil
}
