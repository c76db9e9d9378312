package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ==================== ENUMS ====================

type EventStatus string

const (
	EventStatusPending EventStatus = "pending"
	EventStatusSuccess EventStatus = "success"
	EventStatusFailed  EventStatus = "failed"
)

// ==================== JSONB TYPES ====================

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to scan JSONB: invalid type")
	}
	return json.Unmarshal(bytes, j)
}

// ==================== ENTITIES ====================

// Project is one backup of one device user. Artifacts live under
// <data_dir>/<name>/; the row keeps what cannot be derived from them.
type Project struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Name         string `gorm:"size:255;uniqueIndex;not null" json:"name"`
	User         string `gorm:"size:64;not null" json:"user"`
	EncryptedKey string `gorm:"type:text" json:"-"`
	ResourceSize int64  `gorm:"default:0" json:"resource_size"`
}

// ProjectFile is an artifact found in a project directory.
type ProjectFile struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// ProjectSummary is what get_exist_projects reports per project.
type ProjectSummary struct {
	Name         string        `json:"name"`
	User         string        `json:"user"`
	ResourceSize int64         `json:"resource_size"`
	Files        []ProjectFile `json:"files"`
}

type TimelineEvent struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Type     string      `gorm:"size:100;not null;index" json:"type"`
	Status   EventStatus `gorm:"size:20;not null;default:'pending';index" json:"status"`
	Message  string      `gorm:"type:text" json:"message"`
	Meta     JSONB       `gorm:"type:jsonb" json:"meta"`
	Task     string      `gorm:"size:255;index" json:"task"`
	Category string      `gorm:"size:50;index" json:"category"`
}

type SystemSetting struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Key      string `gorm:"size:255;uniqueIndex;not null" json:"key"`
	Value    string `gorm:"type:text" json:"value"`
	Type     string `gorm:"size:50;default:'string'" json:"type"`
	Category string `gorm:"size:100;index" json:"category"`
}

// Setting keys.
const (
	SettingDeviceKeyPrivate = "device_ssh_private_key"
	SettingDeviceKeyPublic  = "device_ssh_public_key"
	SettingCategorySecurity = "security"
)
