package models

import "time"

// ReloadAudit records every attempt to apply generated config to the webserver.
type ReloadAudit struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	Trigger    string    `json:"trigger" gorm:"index"`
	ConfigHash string    `json:"config_hash"`
	AppliedAt  time.Time `json:"applied_at" gorm:"index"`
	Success    bool      `json:"success"`
	ErrorMsg   string    `json:"error_msg" gorm:"type:text"`
}
