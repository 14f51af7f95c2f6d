package models

// SettingsTable holds small key/value settings that must survive a relaunch
const SettingsTable = "settings"

// SettingModel maps settings(key TEXT PRIMARY KEY, value TEXT)
type SettingModel struct {
	Key   string `gorm:"primaryKey;column:key;type:text"`
	Value string `gorm:"column:value;type:text;not null"`
}

// TableName returns the table name for GORM
func (SettingModel) TableName() string {
	return SettingsTable
}
