package correlation

import (
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tracetrigger/internal/logger"
	"tracetrigger/pkg/models"
)

// Mode selects how a correlation key is derived.
type Mode int

const (
	// ByDefault uses an activity path id, else the first payload field.
	ByDefault Mode = iota
	ByField
	ByThread
	ByActivity
)

// Selector is the parsed StartStopID option.
type Selector struct {
	Mode  Mode
	Field string
}

// ParseSelector maps StartStopID text to a selector. Empty text selects the
// default strategy.
func ParseSelector(text string) Selector {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return Selector{Mode: ByDefault}
	case strings.EqualFold(text, "ThreadID"):
		return Selector{Mode: ByThread}
	case strings.EqualFold(text, "ActivityID"):
		return Selector{Mode: ByActivity}
	default:
		return Selector{Mode: ByField, Field: text}
	}
}

func (s Selector) String() string {
	switch s.Mode {
	case ByField:
		return s.Field
	case ByThread:
		return "ThreadID"
	case ByActivity:
		return "ActivityID"
	default:
		return ""
	}
}

const maxMissingFieldLogs = 3

// Resolver derives correlation keys from events. It is not safe for
// concurrent use.
type Resolver struct {
	sel     Selector
	missing atomic.Int64
	log     *zap.SugaredLogger
}

// NewResolver creates a resolver. A nil log uses the global logger.
func NewResolver(sel Selector, log *zap.SugaredLogger) *Resolver {
	if log == nil {
		log = logger.Named("correlation")
	}
	return &Resolver{sel: sel, log: log}
}

// MissingFields returns how many events lacked the selected key field.
func (r *Resolver) MissingFields() int64 {
	return r.missing.Load()
}

// Resolve computes the key for ev.
func (r *Resolver) Resolve(ev *models.TraceEvent) Key {
	key := Key{Provider: ProviderID(ev), Task: ev.TaskID}

	switch r.sel.Mode {
	case ByField:
		v, ok := ev.FieldValue(r.sel.Field)
		if kind, payload, embedded := Embed(v); ok && embedded {
			key.Kind, key.Value = kind, payload
			return key
		}
		if n := r.missing.Add(1); n <= maxMissingFieldLogs {
			r.log.Errorf("StartStopID field %q missing on %s/%s, correlating by process", r.sel.Field, ev.ProviderName, ev.FullName())
		}
		key.Kind, key.Value = KindProcess, int64Payload(int64(ev.ProcessID))
		return key

	case ByThread:
		key.Kind, key.Value = KindThread, threadPayload(ev.ThreadID, ev.ProcessID)
		return key

	case ByActivity:
		key.Kind, key.Value = KindActivity, ev.ActivityID
		return key
	}

	if IsActivityPath(ev.ActivityID, ev.ProcessID) {
		key.Kind, key.Value = KindActivity, ev.ActivityID
		return key
	}
	if names := ev.PayloadNames(); len(names) > 0 {
		v, _ := ev.FieldValue(names[0])
		if kind, payload, ok := Embed(v); ok {
			key.Kind, key.Value = kind, payload
			return key
		}
	}
	if ev.ActivityID != uuid.Nil {
		key.Kind, key.Value = KindActivity, ev.ActivityID
		return key
	}
	key.Kind, key.Value = KindThread, threadPayload(ev.ThreadID, ev.ProcessID)
	return key
}

// ProviderID returns the provider GUID of ev, deriving one from the provider
// name when the transport did not supply it.
func ProviderID(ev *models.TraceEvent) uuid.UUID {
	if ev.ProviderGUID != uuid.Nil {
		return ev.ProviderGUID
	}
	return uuid.NewSHA1(stringSpace, []byte(strings.ToLower(ev.ProviderName)))
}
