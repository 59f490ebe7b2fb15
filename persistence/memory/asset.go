package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/persistence"
	"github.com/mohitkumar/mediaflow/util"
)

type assetStore struct {
	mu      sync.Mutex
	assets  map[string][]byte
	history map[string][]*model.HistoryRecord
	encDec  util.EncoderDecoder[model.Asset]
}

var _ persistence.AssetStore = new(assetStore)

func NewAssetStore() *assetStore {
	return &assetStore{
		assets:  make(map[string][]byte),
		history: make(map[string][]*model.HistoryRecord),
		encDec:  util.NewJsonEncoderDecoder[model.Asset](),
	}
}

func (s *assetStore) Get(ctx context.Context, assetId string) (*model.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(assetId)
}

func (s *assetStore) get(assetId string) (*model.Asset, error) {
	data, ok := s.assets[assetId]
	if !ok {
		return nil, persistence.NotFoundError{Kind: persistence.KIND_ASSET, Name: assetId}
	}
	return s.encDec.Decode(data)
}

// getOrNew returns the stored asset or an unsaved empty one with version -1.
func (s *assetStore) getOrNew(assetId string, now time.Time) (*model.Asset, error) {
	asset, err := s.get(assetId)
	if err == nil {
		return asset, nil
	}
	if !persistence.IsNotFound(err) {
		return nil, err
	}
	return &model.Asset{
		AssetId:   assetId,
		Fields:    make(map[string]any),
		Version:   -1,
		CreatedAt: now,
	}, nil
}

func (s *assetStore) save(asset *model.Asset, now time.Time) (*model.Asset, error) {
	asset.Version++
	asset.UpdatedAt = now
	data, err := s.encDec.Encode(*asset)
	if err != nil {
		return nil, err
	}
	s.assets[asset.AssetId] = data
	s.history[asset.AssetId] = append(s.history[asset.AssetId], &model.HistoryRecord{
		EntityId:  asset.AssetId,
		Version:   asset.Version,
		Snapshot:  data,
		CreatedAt: now,
	})
	return s.encDec.Decode(data)
}

func (s *assetStore) Put(ctx context.Context, assetId string, executionId string, fields map[string]any) (*model.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	asset, err := s.getOrNew(assetId, now)
	if err != nil {
		return nil, err
	}
	if asset.IsHeldByOther(executionId) {
		return nil, persistence.LockUnavailableError{AssetId: assetId, LockedBy: asset.LockedBy}
	}
	if asset.Fields == nil {
		asset.Fields = make(map[string]any)
	}
	for k, v := range fields {
		asset.Fields[k] = v
	}
	return s.save(asset, now)
}

func (s *assetStore) TryLock(ctx context.Context, assetId string, executionId string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	asset, err := s.getOrNew(assetId, now.UTC())
	if err != nil {
		return false, err
	}
	if asset.Locked {
		return false, persistence.LockUnavailableError{AssetId: assetId, LockedBy: asset.LockedBy}
	}
	asset.Locked = true
	asset.LockedAt = now.UTC()
	asset.LockedBy = executionId
	if _, err := s.save(asset, now.UTC()); err != nil {
		return false, err
	}
	return true, nil
}

func (s *assetStore) Unlock(ctx context.Context, assetId string, executionId string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	asset, err := s.get(assetId)
	if err != nil {
		if persistence.IsNotFound(err) {
			return false, persistence.LockMismatchError{AssetId: assetId, ExecutionId: executionId}
		}
		return false, err
	}
	if !asset.Locked || asset.LockedBy != executionId {
		return false, persistence.LockMismatchError{AssetId: assetId, ExecutionId: executionId, LockedBy: asset.LockedBy}
	}
	asset.Locked = false
	asset.LockedAt = time.Time{}
	asset.LockedBy = ""
	if _, err := s.save(asset, time.Now().UTC()); err != nil {
		return false, err
	}
	return true, nil
}

func (s *assetStore) ListLocked(ctx context.Context, lockedBefore time.Time) ([]*model.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]*model.Asset, 0)
	for id := range s.assets {
		asset, err := s.get(id)
		if err != nil {
			return nil, err
		}
		if asset.Locked && asset.LockedAt.Before(lockedBefore) {
			res = append(res, asset)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].LockedAt.Before(res[j].LockedAt) })
	return res, nil
}

func (s *assetStore) History(ctx context.Context, assetId string) ([]*model.HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, ok := s.history[assetId]
	if !ok {
		return nil, persistence.NotFoundError{Kind: persistence.KIND_ASSET, Name: assetId}
	}
	res := make([]*model.HistoryRecord, len(records))
	copy(res, records)
	return res, nil
}
