package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"evcsms/internal"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PriceFunc returns the price per kWh of the station at the given moment
type PriceFunc func(chargePointId string, ts time.Time) float64

func FlatPrice(price float64) PriceFunc {
	return func(string, time.Time) float64 {
		return price
	}
}

type tariffKey struct {
	chargePointId string
	hour          int64
}

// Tariffs reads station prices from the tariffs table, falling back to the default price.
// Lookups are cached per station and hour.
type Tariffs struct {
	pool         *pgxpool.Pool
	logger       internal.LogHandler
	defaultPrice float64
	mutex        sync.Mutex
	cache        map[tariffKey]float64
}

func NewTariffs(ctx context.Context, url string, defaultPrice float64, logger internal.LogHandler) (*Tariffs, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Tariffs{
		pool:         pool,
		logger:       logger,
		defaultPrice: defaultPrice,
		cache:        make(map[tariffKey]float64),
	}, nil
}

func (t *Tariffs) Close() {
	if t != nil && t.pool != nil {
		t.pool.Close()
	}
}

// Lookup returns the tariff valid at ts; station specific rows win over the '*' row
func (t *Tariffs) Lookup(ctx context.Context, chargePointId string, ts time.Time) (float64, error) {
	row := t.pool.QueryRow(ctx, `
		select price_per_kwh::float8
		from tariffs
		where (charge_point_id = $1 or charge_point_id = '*') and valid_from <= $2
		order by (charge_point_id = $1) desc, valid_from desc
		limit 1
	`, chargePointId, ts)
	var price float64
	if err := row.Scan(&price); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return t.defaultPrice, nil
		}
		return 0, err
	}
	return price, nil
}

func (t *Tariffs) Price(chargePointId string, ts time.Time) float64 {
	key := tariffKey{chargePointId, ts.Unix() / 3600}
	t.mutex.Lock()
	price, ok := t.cache[key]
	t.mutex.Unlock()
	if ok {
		return price
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	price, err := t.Lookup(ctx, chargePointId, ts)
	if err != nil {
		t.logger.Error(fmt.Sprintf("tariff lookup for %s", chargePointId), err)
		return t.defaultPrice
	}
	t.mutex.Lock()
	t.cache[key] = price
	t.mutex.Unlock()
	return price
}
