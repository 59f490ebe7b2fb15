package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	rd "github.com/go-redis/redis/v9"
	"github.com/mohitkumar/mediaflow/logger"
	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/persistence"
	"github.com/mohitkumar/mediaflow/util"
	"go.uber.org/zap"
)

const ASSET_KEY string = "ASSET"
const ASSET_LOCKED_INDEX string = "ASSET_LOCKED"
const ASSET_HISTORY string = "ASSET_HISTORY"

// tryLockScript sets the lock fields only when the asset is absent or unlocked,
// bumps the version and appends a history snapshot.
// KEYS: asset hash, locked index, history list. ARGV: asset id, execution id, now (RFC3339), now (ms).
var tryLockScript = rd.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'locked', 'lockedBy', 'fields', 'version', 'createdAt')
if cur[1] == '1' then
	return {0, cur[2]}
end
local fields = cur[3] or '{}'
local version = 0
if cur[4] then version = tonumber(cur[4]) + 1 end
local createdAt = cur[5] or ARGV[3]
redis.call('HSET', KEYS[1], 'locked', '1', 'lockedBy', ARGV[2], 'lockedAt', ARGV[3], 'fields', fields,
	'version', version, 'createdAt', createdAt, 'updatedAt', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[1])
local snapshot = '{"assetId":' .. cjson.encode(ARGV[1]) .. ',"fields":' .. fields ..
	',"locked":true,"lockedAt":' .. cjson.encode(ARGV[3]) .. ',"lockedBy":' .. cjson.encode(ARGV[2]) ..
	',"version":' .. version .. ',"createdAt":' .. cjson.encode(createdAt) .. ',"updatedAt":' .. cjson.encode(ARGV[3]) .. '}'
redis.call('RPUSH', KEYS[3], '{"entityId":' .. cjson.encode(ARGV[1]) .. ',"version":' .. version ..
	',"snapshot":' .. snapshot .. ',"createdAt":' .. cjson.encode(ARGV[3]) .. '}')
return {1, ARGV[2]}
`)

// unlockScript clears the lock only when the caller holds it.
// KEYS: asset hash, locked index, history list. ARGV: asset id, execution id, now (RFC3339).
var unlockScript = rd.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'locked', 'lockedBy', 'fields', 'version', 'createdAt')
if cur[1] ~= '1' or cur[2] ~= ARGV[2] then
	return {0, cur[2] or ''}
end
local version = tonumber(cur[4]) + 1
redis.call('HSET', KEYS[1], 'locked', '0', 'lockedBy', '', 'lockedAt', '', 'version', version, 'updatedAt', ARGV[3])
redis.call('ZREM', KEYS[2], ARGV[1])
local snapshot = '{"assetId":' .. cjson.encode(ARGV[1]) .. ',"fields":' .. cur[3] ..
	',"locked":false,"version":' .. version .. ',"createdAt":' .. cjson.encode(cur[5]) ..
	',"updatedAt":' .. cjson.encode(ARGV[3]) .. '}'
redis.call('RPUSH', KEYS[3], '{"entityId":' .. cjson.encode(ARGV[1]) .. ',"version":' .. version ..
	',"snapshot":' .. snapshot .. ',"createdAt":' .. cjson.encode(ARGV[3]) .. '}')
return {1, ARGV[2]}
`)

type redisAssetStore struct {
	*baseDao
	encDec        util.EncoderDecoder[model.Asset]
	historyEncDec util.EncoderDecoder[model.HistoryRecord]
}

var _ persistence.AssetStore = new(redisAssetStore)

func NewRedisAssetStore(client rd.UniversalClient, namespace string) *redisAssetStore {
	return &redisAssetStore{
		baseDao:       newBaseDao(client, namespace),
		encDec:        util.NewJsonEncoderDecoder[model.Asset](),
		historyEncDec: util.NewJsonEncoderDecoder[model.HistoryRecord](),
	}
}

func (r *redisAssetStore) assetKey(assetId string) string {
	return r.getNamespaceKey(ASSET_KEY, assetId)
}

func (r *redisAssetStore) lockedIndexKey() string {
	return r.getNamespaceKey(ASSET_LOCKED_INDEX)
}

func (r *redisAssetStore) historyKey(assetId string) string {
	return r.getNamespaceKey(ASSET_HISTORY, assetId)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// decodeAsset builds an asset from its hash fields.
func decodeAsset(assetId string, vals map[string]string) (*model.Asset, error) {
	asset := &model.Asset{
		AssetId:   assetId,
		Fields:    make(map[string]any),
		Locked:    vals["locked"] == "1",
		LockedAt:  parseTime(vals["lockedAt"]),
		LockedBy:  vals["lockedBy"],
		CreatedAt: parseTime(vals["createdAt"]),
		UpdatedAt: parseTime(vals["updatedAt"]),
	}
	if v, ok := vals["version"]; ok {
		version, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, err
		}
		asset.Version = version
	}
	if f, ok := vals["fields"]; ok && f != "" {
		fields, err := util.NewJsonEncoderDecoder[map[string]any]().DecodeString(f)
		if err != nil {
			return nil, err
		}
		asset.Fields = *fields
	}
	return asset, nil
}

func (r *redisAssetStore) Get(ctx context.Context, assetId string) (*model.Asset, error) {
	vals, err := r.redisClient.HGetAll(ctx, r.assetKey(assetId)).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	if len(vals) == 0 {
		return nil, persistence.NotFoundError{Kind: persistence.KIND_ASSET, Name: assetId}
	}
	return decodeAsset(assetId, vals)
}

func (r *redisAssetStore) Put(ctx context.Context, assetId string, executionId string, fields map[string]any) (*model.Asset, error) {
	key := r.assetKey(assetId)
	var saved *model.Asset
	txf := func(tx *rd.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		asset := &model.Asset{AssetId: assetId, Fields: make(map[string]any), Version: -1, CreatedAt: now}
		if len(vals) > 0 {
			asset, err = decodeAsset(assetId, vals)
			if err != nil {
				return err
			}
		}
		if asset.IsHeldByOther(executionId) {
			return persistence.LockUnavailableError{AssetId: assetId, LockedBy: asset.LockedBy}
		}
		for k, v := range fields {
			asset.Fields[k] = v
		}
		asset.Version++
		asset.UpdatedAt = now
		fieldData, err := util.NewJsonEncoderDecoder[map[string]any]().Encode(asset.Fields)
		if err != nil {
			return err
		}
		snapshot, err := r.encDec.Encode(*asset)
		if err != nil {
			return err
		}
		history, err := r.historyEncDec.Encode(model.HistoryRecord{EntityId: assetId, Version: asset.Version, Snapshot: snapshot, CreatedAt: now})
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			pipe.HSet(ctx, key,
				"fields", string(fieldData),
				"version", asset.Version,
				"createdAt", formatTime(asset.CreatedAt),
				"updatedAt", formatTime(now),
			)
			if len(vals) == 0 {
				pipe.HSet(ctx, key, "locked", "0")
			}
			pipe.RPush(ctx, r.historyKey(assetId), history)
			return nil
		})
		if err == nil {
			saved = asset
		}
		return err
	}
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := r.redisClient.Watch(ctx, txf, key)
		if err == nil {
			return saved, nil
		}
		if errors.Is(err, rd.TxFailedErr) {
			continue
		}
		var lu persistence.LockUnavailableError
		if errors.As(err, &lu) {
			return nil, err
		}
		logger.Error("error writing asset", zap.String("asset", assetId), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return nil, persistence.StorageLayerError{Message: "too much contention writing asset " + assetId}
}

func (r *redisAssetStore) TryLock(ctx context.Context, assetId string, executionId string, now time.Time) (bool, error) {
	keys := []string{r.assetKey(assetId), r.lockedIndexKey(), r.historyKey(assetId)}
	res, err := tryLockScript.Run(ctx, r.redisClient, keys, assetId, executionId, formatTime(now), now.UnixMilli()).Slice()
	if err != nil {
		logger.Error("error locking asset", zap.String("asset", assetId), zap.Error(err))
		return false, persistence.StorageLayerError{Message: err.Error()}
	}
	if ok, _ := res[0].(int64); ok == 1 {
		return true, nil
	}
	holder, _ := res[1].(string)
	return false, persistence.LockUnavailableError{AssetId: assetId, LockedBy: holder}
}

func (r *redisAssetStore) Unlock(ctx context.Context, assetId string, executionId string) (bool, error) {
	keys := []string{r.assetKey(assetId), r.lockedIndexKey(), r.historyKey(assetId)}
	res, err := unlockScript.Run(ctx, r.redisClient, keys, assetId, executionId, formatTime(time.Now())).Slice()
	if err != nil {
		logger.Error("error unlocking asset", zap.String("asset", assetId), zap.Error(err))
		return false, persistence.StorageLayerError{Message: err.Error()}
	}
	if ok, _ := res[0].(int64); ok == 1 {
		return true, nil
	}
	holder, _ := res[1].(string)
	return false, persistence.LockMismatchError{AssetId: assetId, ExecutionId: executionId, LockedBy: holder}
}

func (r *redisAssetStore) ListLocked(ctx context.Context, lockedBefore time.Time) ([]*model.Asset, error) {
	opt := &rd.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(lockedBefore.UnixMilli(), 10),
	}
	ids, err := r.redisClient.ZRangeByScore(ctx, r.lockedIndexKey(), opt).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	res := make([]*model.Asset, 0, len(ids))
	for _, id := range ids {
		asset, err := r.Get(ctx, id)
		if err != nil {
			if persistence.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if asset.Locked {
			res = append(res, asset)
		}
	}
	return res, nil
}

func (r *redisAssetStore) History(ctx context.Context, assetId string) ([]*model.HistoryRecord, error) {
	vals, err := r.redisClient.LRange(ctx, r.historyKey(assetId), 0, -1).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	if len(vals) == 0 {
		return nil, persistence.NotFoundError{Kind: persistence.KIND_ASSET, Name: assetId}
	}
	res := make([]*model.HistoryRecord, 0, len(vals))
	for _, v := range vals {
		record, err := r.historyEncDec.DecodeString(v)
		if err != nil {
			return nil, err
		}
		res = append(res, record)
	}
	return res, nil
}
