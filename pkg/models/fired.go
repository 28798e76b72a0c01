package models

import "time"

// TriggerFired describes a trigger that went off.
type TriggerFired struct {
	FireID    string    `json:"fire_id"`
	Trigger   string    `json:"trigger"`
	Kind      string    `json:"kind"` // event or counter
	Spec      string    `json:"spec"`
	Message   string    `json:"message"`
	FiredAt   time.Time `json:"fired_at"`
	ProcessID int       `json:"pid,omitempty"`
	ThreadID  int       `json:"tid,omitempty"`
	Counts    FireStats `json:"counts"`
}

// FireStats summarizes what the trigger had observed when it fired.
type FireStats struct {
	DurationMSec  float64 `json:"duration_msec,omitempty"`
	ThresholdMSec float64 `json:"threshold_msec,omitempty"`
	Value         float64 `json:"value,omitempty"`
	Threshold     float64 `json:"threshold,omitempty"`
	Pairs         int64   `json:"pairs,omitempty"`
	MaxMSec       float64 `json:"max_msec,omitempty"`
}
