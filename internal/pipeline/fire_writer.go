package pipeline

import "tracetrigger/pkg/models"

// FireWriter persists fire records.
type FireWriter interface {
	WriteFired(records []*models.TriggerFired) error
	Close() error
}
