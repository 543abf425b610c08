package deployment

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/gomodule/redigo/redis"
)

const keyPrefix = "zkbtc:deployment:"

// NewRedisPool creates a redis pool accessible at the given address.
func NewRedisPool(address string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:   16,
		MaxActive: 128,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", address)
		},
	}
}

// Redis is a Registry backed by redis, storing deployments as JSON.
type Redis struct {
	pool *redis.Pool
}

// NewRedis returns a Registry using pool.
func NewRedis(pool *redis.Pool) *Redis {
	return &Redis{pool: pool}
}

// record is the stored form of a Deployment.
type record struct {
	TxID   string  `json:"txid"`
	Vout   uint32  `json:"vout"`
	VKHash string  `json:"vk_hash"`
	Amount int64   `json:"amount"`
	State  *string `json:"state,omitempty"`
}

func toRecord(d *Deployment) *record {
	return &record{
		TxID:   d.TxID.String(),
		Vout:   d.Vout,
		VKHash: hex.EncodeToString(d.VKHash[:]),
		Amount: d.Amount,
		State:  d.State,
	}
}

func (r *record) deployment() (*Deployment, error) {
	txid, err := chainhash.NewHashFromStr(r.TxID)
	if err != nil {
		return nil, err
	}
	vkHash, err := hex.DecodeString(r.VKHash)
	if err != nil || len(vkHash) != 32 {
		return nil, fmt.Errorf("invalid vk hash %q", r.VKHash)
	}
	d := &Deployment{TxID: *txid, Vout: r.Vout, Amount: r.Amount, State: r.State}
	copy(d.VKHash[:], vkHash)
	return d, d.Validate()
}

// Get implements Registry.
func (r *Redis) Get(ctx context.Context, txid chainhash.Hash) (*Deployment, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("deployment.Redis: %w", err)
	}
	defer conn.Close()

	return get(ctx, conn, txid)
}

func get(ctx context.Context, conn redis.Conn, txid chainhash.Hash) (*Deployment, error) {
	data, err := redis.Bytes(redis.DoContext(conn, ctx, "GET", keyPrefix+txid.String()))
	if errors.Is(err, redis.ErrNil) {
		return nil, notFound(txid)
	}
	if err != nil {
		return nil, fmt.Errorf("deployment.Redis: %w", err)
	}
	var rec record
	if err = json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("deployment.Redis: %w", err)
	}
	d, err := rec.deployment()
	if err != nil {
		return nil, fmt.Errorf("deployment.Redis: %s: %w", txid, err)
	}
	return d, nil
}

// Put implements Registry.
func (r *Redis) Put(ctx context.Context, d *Deployment) error {
	if err := d.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(toRecord(d))
	if err != nil {
		return fmt.Errorf("deployment.Redis: %w", err)
	}
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("deployment.Redis: %w", err)
	}
	defer conn.Close()
	// NX: a stored deployment is never replaced
	_, err = redis.String(redis.DoContext(conn, ctx, "SET", keyPrefix+d.TxID.String(), data, "NX"))
	if err == nil {
		return nil
	}
	if !errors.Is(err, redis.ErrNil) {
		return fmt.Errorf("deployment.Redis: %w", err)
	}
	existing, err := get(ctx, conn, d.TxID)
	if err != nil {
		return err
	}
	if !existing.Equal(d) {
		return conflict(d.TxID)
	}
	return nil
}

// Close releases the pool's connections.
func (r *Redis) Close() error {
	return r.pool.Close()
}

// MarshalJSON implements json.Marshaler, using the same form as the redis records.
func (d *Deployment) MarshalJSON() ([]byte, error) {
	return json.Marshal(toRecord(d))
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Deployment) UnmarshalJSON(data []byte) error {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	decoded, err := rec.deployment()
	if err != nil {
		return err
	}
	*d = *decoded
	return nil
}
