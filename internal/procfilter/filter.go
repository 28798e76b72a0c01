package procfilter

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"tracetrigger/internal/logger"
	"tracetrigger/pkg/models"
)

// Mode is how a filter decides which processes pass.
type Mode int

const (
	Wildcard Mode = iota
	FixedID
	ByName
)

// Lifecycle classifies process lifecycle events.
type Lifecycle int

const (
	NotLifecycle Lifecycle = iota
	ProcessStart
	ProcessStop
)

const (
	unresolvedLogFirst = 5
	unresolvedLogEvery = 10000
)

// Filter restricts events to a single process. Allow is not safe for
// concurrent use; each trigger owns one.
type Filter struct {
	text    string
	mode    Mode
	name    string
	pid     int
	bound   bool
	dropped atomic.Int64
	log     *zap.SugaredLogger
}

// New parses a process filter: empty or "*" passes everything, a number pins
// a process id, anything else is matched against process image names.
func New(text string, log *zap.SugaredLogger) *Filter {
	if log == nil {
		log = logger.Named("procfilter")
	}
	text = strings.TrimSpace(text)
	f := &Filter{text: text, log: log}
	switch {
	case text == "" || text == "*":
		f.mode = Wildcard
	default:
		if pid, err := strconv.Atoi(text); err == nil {
			f.mode = FixedID
			f.pid = pid
			f.bound = true
		} else {
			f.mode = ByName
			f.name = NormalizeName(text)
		}
	}
	return f
}

// Mode returns the filter mode.
func (f *Filter) Mode() Mode {
	return f.mode
}

// ProcessID returns the bound process id, if any.
func (f *Filter) ProcessID() (int, bool) {
	return f.pid, f.bound
}

// Dropped returns how many events were dropped while unresolved.
func (f *Filter) Dropped() int64 {
	return f.dropped.Load()
}

// Allow reports whether ev passes the filter. Lifecycle events update the
// binding of name filters before the check.
func (f *Filter) Allow(ev *models.TraceEvent) bool {
	switch f.mode {
	case Wildcard:
		return true
	case FixedID:
		return ev.ProcessID == f.pid
	}

	kind, pid, name := Classify(ev)
	switch kind {
	case ProcessStart:
		if NormalizeName(name) == f.name {
			if f.bound && f.pid != pid {
				f.log.Warnf("Process %s restarted: pid %d replaces %d", f.text, pid, f.pid)
			}
			f.pid, f.bound = pid, true
			f.log.Infof("Process filter %s bound to pid %d", f.text, pid)
		}
		return false
	case ProcessStop:
		if f.bound && pid == f.pid {
			f.log.Infof("Process %s (pid %d) exited, filter unresolved", f.text, pid)
			f.bound = false
			f.pid = 0
		}
		return false
	}

	if !f.bound {
		n := f.dropped.Add(1)
		if n <= unresolvedLogFirst || n%unresolvedLogEvery == 0 {
			f.log.Debugf("Process %s not running yet, dropped %d events", f.text, n)
		}
		return false
	}
	return ev.ProcessID == f.pid
}

func (f *Filter) String() string {
	switch f.mode {
	case Wildcard:
		return "any process"
	case FixedID:
		return fmt.Sprintf("pid %d", f.pid)
	}
	if f.bound {
		return fmt.Sprintf("process %s (pid %d)", f.text, f.pid)
	}
	return fmt.Sprintf("process %s (unresolved)", f.text)
}

// Classify recognizes process start/stop events and extracts the process id
// and image name they describe.
func Classify(ev *models.TraceEvent) (Lifecycle, int, string) {
	kind := lifecycleKind(ev)
	if kind == NotLifecycle {
		return NotLifecycle, 0, ""
	}
	pid := ev.ProcessID
	if v := ev.Field("ProcessID"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			pid = n
		}
	}
	name := ev.ProcessName
	for _, field := range []string{"ImageFileName", "ImageName", "ProcessName"} {
		if v := ev.Field(field); v != "" {
			name = v
			break
		}
	}
	return kind, pid, name
}

func lifecycleKind(ev *models.TraceEvent) Lifecycle {
	if !isKernelProvider(ev.ProviderName) {
		return NotLifecycle
	}
	task, opcode := ev.TaskName, ev.OpcodeName
	if task == "" || opcode == "" {
		name := ev.EventName
		if i := strings.IndexByte(name, '/'); i >= 0 {
			task, opcode = name[:i], name[i+1:]
		} else if strings.HasPrefix(name, "Process") {
			task, opcode = "Process", strings.TrimPrefix(name, "Process")
		}
	}
	if !strings.EqualFold(task, "Process") {
		return NotLifecycle
	}
	switch strings.ToLower(strings.TrimPrefix(opcode, "_")) {
	case "start", "dcstart":
		return ProcessStart
	case "stop", "end", "dcstop", "dcend":
		return ProcessStop
	}
	return NotLifecycle
}

func isKernelProvider(name string) bool {
	switch strings.ToLower(name) {
	case "windows kernel", "microsoft-windows-kernel-process", "kernel":
		return true
	}
	return false
}

// NormalizeName lowercases an image name and strips its directory and .exe
// extension.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.ToLower(name)
	return strings.TrimSuffix(name, ".exe")
}
