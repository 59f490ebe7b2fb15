package model

import "time"

type Asset struct {
	AssetId   string         `json:"assetId"`
	Fields    map[string]any `json:"fields"`
	Locked    bool           `json:"locked"`
	LockedAt  time.Time      `json:"lockedAt,omitempty"`
	LockedBy  string         `json:"lockedBy,omitempty"`
	Version   int64          `json:"version"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// IsHeldByOther reports whether the asset is locked by an execution other than executionId.
func (a *Asset) IsHeldByOther(executionId string) bool {
	return a.Locked && a.LockedBy != executionId
}
