// Package domain contains the persisted usage-history model.
package domain

// FeatureUsage is one change-detected usage observation. Rows are appended
// only when (used, available) differs from the feature's previous row, so
// storage grows with state changes, not poll count. Schema changes are
// additive columns only.
type FeatureUsage struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	Timestamp   int64  `gorm:"not null;index:idx_feature_timestamp,priority:2"`
	FeatureName string `gorm:"type:text;not null;index:idx_feature_timestamp,priority:1"`
	Used        int    `gorm:"not null"`
	Available   int    `gorm:"not null"`
}

// TableName sets the database table name.
func (FeatureUsage) TableName() string { return "feature_usage" }

// Row is one point returned to time-series consumers.
type Row struct {
	Timestamp int64
	Used      int
	Available int
}
