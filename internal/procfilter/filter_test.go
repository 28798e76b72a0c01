package procfilter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"tracetrigger/pkg/models"
)

func appEvent(pid int) *models.TraceEvent {
	return &models.TraceEvent{ProviderName: "MyProvider", EventName: "OpStart", ProcessID: pid}
}

func kernelEvent(opcode string, pid int, image string) *models.TraceEvent {
	return &models.TraceEvent{
		ProviderName: "Windows Kernel",
		TaskName:     "Process",
		OpcodeName:   opcode,
		ProcessID:    pid,
		Fields:       map[string]interface{}{"ProcessID": pid, "ImageFileName": image},
	}
}

func TestWildcardPassesEverything(t *testing.T) {
	for _, text := range []string{"", "*"} {
		f := New(text, nil)
		require.Equal(t, Wildcard, f.Mode())
		require.True(t, f.Allow(appEvent(1)))
		require.True(t, f.Allow(appEvent(2)))
	}
}

func TestFixedID(t *testing.T) {
	f := New("42", nil)
	require.Equal(t, FixedID, f.Mode())
	require.True(t, f.Allow(appEvent(42)))
	require.False(t, f.Allow(appEvent(43)))
}

func TestNameBindingLifecycle(t *testing.T) {
	f := New("app", nil)
	require.Equal(t, ByName, f.Mode())

	require.False(t, f.Allow(appEvent(10)))
	require.False(t, f.Allow(appEvent(11)))
	require.Equal(t, int64(2), f.Dropped())

	require.False(t, f.Allow(kernelEvent("Start", 99, "other.exe")))
	require.False(t, f.Allow(appEvent(99)))

	f.Allow(kernelEvent("Start", 10, `C:\bin\App.EXE`))
	pid, bound := f.ProcessID()
	require.True(t, bound)
	require.Equal(t, 10, pid)
	require.True(t, f.Allow(appEvent(10)))
	require.False(t, f.Allow(appEvent(11)))

	f.Allow(kernelEvent("Stop", 11, "other.exe"))
	require.True(t, f.Allow(appEvent(10)))

	f.Allow(kernelEvent("Stop", 10, "app.exe"))
	_, bound = f.ProcessID()
	require.False(t, bound)
	require.False(t, f.Allow(appEvent(10)))
	require.Contains(t, f.String(), "unresolved")
}

func TestClassify(t *testing.T) {
	kind, pid, name := Classify(kernelEvent("DCStart", 5, "svc.exe"))
	require.Equal(t, ProcessStart, kind)
	require.Equal(t, 5, pid)
	require.Equal(t, "svc.exe", name)

	ev := &models.TraceEvent{ProviderName: "Microsoft-Windows-Kernel-Process", EventName: "ProcessStop", ProcessID: 6}
	kind, pid, _ = Classify(ev)
	require.Equal(t, ProcessStop, kind)
	require.Equal(t, 6, pid)

	kind, _, _ = Classify(appEvent(1))
	require.Equal(t, NotLifecycle, kind)
}

func TestNormalizeName(t *testing.T) {
	require.Equal(t, "app", NormalizeName(`C:\x\APP.exe`))
	require.Equal(t, "app", NormalizeName("/usr/bin/app"))
	require.Equal(t, "app", NormalizeName(" App "))
}
