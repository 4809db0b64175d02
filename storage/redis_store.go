package storage

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"salefeed-relay/models"
)

// insertScript adds listings atomically. KEYS: seq, index, rows.
// ARGV[1] is "strict" or "skip", then (key, row JSON) pairs. In strict mode
// any existing or repeated key fails the whole call before anything is written.
// Returns the ids assigned to inserted rows, in argument order.
var insertScript = redis.NewScript(`
local mode = ARGV[1]
local n = (#ARGV - 1) / 2
if mode == 'strict' then
  local seen = {}
  for i = 1, n do
    local field = ARGV[2 * i]
    if seen[field] or redis.call('HEXISTS', KEYS[2], field) == 1 then
      return redis.error_reply('DUPLICATE_KEY')
    end
    seen[field] = true
  end
end
local ids = {}
for i = 1, n do
  local field = ARGV[2 * i]
  if redis.call('HEXISTS', KEYS[2], field) == 0 then
    local id = redis.call('INCR', KEYS[1])
    redis.call('HSET', KEYS[2], field, id)
    redis.call('HSET', KEYS[3], id, ARGV[2 * i + 1])
    table.insert(ids, id)
  end
end
return ids
`)

// clearScript removes every row and index entry but keeps the id counter.
var clearScript = redis.NewScript(`
local n = redis.call('HLEN', KEYS[2])
redis.call('DEL', KEYS[1], KEYS[2])
return n
`)

// RedisStore keeps listings in Redis hashes: one for rows keyed by id and
// one index from natural key to id. Ids come from an INCR counter.
type RedisStore struct {
	client *redis.Client
	seqKey string
	idxKey string
	rowKey string
}

// redisRow is the stored form of a listing; the id lives in the hash field.
type redisRow struct {
	SteamID    string          `json:"steamid"`
	MarketName string          `json:"market_name"`
	Wear       *float64        `json:"wear"`
	SalePrice  *float64        `json:"sale_price"`
	RawPayload json.RawMessage `json:"additional_data"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ConnectRedis initializes a Redis client from URL or host:port input.
func ConnectRedis(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, errors.Wrap(err, "redis: parse url")
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// NewRedisStore wraps client, namespacing all keys under prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "salefeed"
	}
	return &RedisStore{
		client: client,
		seqKey: prefix + ":listings:seq",
		idxKey: prefix + ":listings:index",
		rowKey: prefix + ":listings:rows",
	}
}

func (rs *RedisStore) InsertIfAbsent(ctx context.Context, l *models.Listing) error {
	ids, err := rs.insert(ctx, "strict", []*models.Listing{l})
	if err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			return ErrDuplicateKey
		}
		return err
	}
	if len(ids) == 1 {
		l.ID = ids[0]
	}
	return nil
}

func (rs *RedisStore) BulkInsert(ctx context.Context, listings []*models.Listing) error {
	if len(listings) == 0 {
		return nil
	}
	ids, err := rs.insert(ctx, "strict", listings)
	if err != nil {
		return aborted(err)
	}
	for i, id := range ids {
		listings[i].ID = id
	}
	return nil
}

func (rs *RedisStore) InsertNew(ctx context.Context, listings []*models.Listing) (int, error) {
	if len(listings) == 0 {
		return 0, nil
	}
	ids, err := rs.insert(ctx, "skip", listings)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (rs *RedisStore) insert(ctx context.Context, mode string, listings []*models.Listing) ([]int64, error) {
	now := time.Now().UTC()
	args := make([]interface{}, 0, 1+2*len(listings))
	args = append(args, mode)
	for _, l := range listings {
		if l.CreatedAt.IsZero() {
			l.CreatedAt = now
		}
		row, err := json.Marshal(redisRow{
			SteamID:    l.SteamID,
			MarketName: l.MarketName,
			Wear:       l.Wear,
			SalePrice:  l.SalePrice,
			RawPayload: l.RawPayload,
			CreatedAt:  l.CreatedAt,
		})
		if err != nil {
			return nil, errors.Wrap(err, "redis: encode listing")
		}
		args = append(args, l.Key().Encode(), string(row))
	}

	ids, err := insertScript.Run(ctx, rs.client, []string{rs.seqKey, rs.idxKey, rs.rowKey}, args...).Int64Slice()
	if err != nil {
		if strings.Contains(err.Error(), "DUPLICATE_KEY") {
			return nil, ErrDuplicateKey
		}
		return nil, errors.Wrap(err, "redis: insert")
	}
	return ids, nil
}

func (rs *RedisStore) All(ctx context.Context) ([]*models.Listing, error) {
	raw, err := rs.client.HGetAll(ctx, rs.rowKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis: fetch all")
	}

	listings := make([]*models.Listing, 0, len(raw))
	for field, value := range raw {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "redis: bad row id %q", field)
		}
		var row redisRow
		if err := json.Unmarshal([]byte(value), &row); err != nil {
			return nil, errors.Wrapf(err, "redis: decode row %d", id)
		}
		listings = append(listings, &models.Listing{
			ID:         id,
			SteamID:    row.SteamID,
			MarketName: row.MarketName,
			Wear:       row.Wear,
			SalePrice:  row.SalePrice,
			RawPayload: row.RawPayload,
			CreatedAt:  row.CreatedAt,
		})
	}
	sort.Slice(listings, func(i, j int) bool { return listings[i].ID < listings[j].ID })
	return listings, nil
}

func (rs *RedisStore) Clear(ctx context.Context) (int64, error) {
	n, err := clearScript.Run(ctx, rs.client, []string{rs.rowKey, rs.idxKey}).Int64()
	if err != nil {
		return 0, errors.Wrap(err, "redis: clear")
	}
	return n, nil
}

func (rs *RedisStore) Ping(ctx context.Context) error {
	return rs.client.Ping(ctx).Err()
}

func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
