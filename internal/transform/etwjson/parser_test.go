package etwjson

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"tracetrigger/pkg/models"
)

func TestParseOrderedPayload(t *testing.T) {
	data := []byte(`{
		"provider": "MyProvider",
		"provider_guid": "{1b4e28ba-2fa1-11d2-883f-0016d3cca427}",
		"event_name": "OpStart",
		"event_id": 1,
		"task_id": 3,
		"level": 4,
		"keywords": "0x10",
		"pid": 100,
		"tid": 200,
		"activity_id": "00000000-0000-0000-0000-000000000007",
		"@timestamp": "2026-02-01T10:00:00.5Z",
		"relative_msec": 12.5,
		"payload": [
			{"name": "RequestID", "value": 42},
			{"name": "Url", "value": "/api"},
			{"name": "Big", "value": 18446744073709551615},
			{"name": "Ratio", "value": 0.25}
		]
	}`)

	ev, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, "MyProvider", ev.ProviderName)
	require.Equal(t, uuid.MustParse("1b4e28ba-2fa1-11d2-883f-0016d3cca427"), ev.ProviderGUID)
	require.Equal(t, "OpStart", ev.EventName)
	require.Equal(t, 1, ev.EventID)
	require.Equal(t, 3, ev.TaskID)
	require.Equal(t, 4, ev.Level)
	require.Equal(t, uint64(0x10), ev.Keywords)
	require.Equal(t, 100, ev.ProcessID)
	require.Equal(t, 200, ev.ThreadID)
	require.Equal(t, uuid.MustParse("00000000-0000-0000-0000-000000000007"), ev.ActivityID)
	require.Equal(t, time.Date(2026, 2, 1, 10, 0, 0, 500000000, time.UTC), ev.Timestamp)
	require.Equal(t, 12.5, ev.RelativeMSec)
	require.True(t, ev.HasRelative)

	require.Equal(t, []string{"RequestID", "Url", "Big", "Ratio"}, ev.PayloadNames())
	require.Equal(t, int64(42), ev.Fields["RequestID"])
	require.Equal(t, "/api", ev.Fields["Url"])
	require.Equal(t, uint64(18446744073709551615), ev.Fields["Big"])
	require.Equal(t, 0.25, ev.Fields["Ratio"])
}

func TestParseObjectPayloadAndAliases(t *testing.T) {
	ev, err := Parse([]byte(`{"ProviderName":"Windows Kernel","TaskName":"Process","OpcodeName":"Start","ProcessID":9,"fields":{"ImageFileName":"app.exe","ProcessID":9}}`))
	require.NoError(t, err)
	require.Equal(t, "Windows Kernel", ev.ProviderName)
	require.Equal(t, "Process/Start", ev.FullName())
	require.Equal(t, 9, ev.ProcessID)
	require.Equal(t, "app.exe", ev.Field("ImageFileName"))
	require.Equal(t, []string{"ImageFileName", "ProcessID"}, ev.PayloadNames())
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte(`not json`))
	require.Error(t, err)
	_, err = Parse([]byte(`{"payload": [1, 2]}`))
	require.Error(t, err)
	_, err = Parse([]byte(`{"payload": "x"}`))
	require.Error(t, err)
	_, err = Parse([]byte(`{"keywords": "zz"}`))
	require.Error(t, err)
}

func TestEncodeRoundTripKeepsOrder(t *testing.T) {
	in, err := Parse([]byte(`{"provider":"P","event_name":"E","event_id":5,"keywords":"0xff","pid":3,"payload":[{"name":"Z","value":1},{"name":"A","value":"x"}]}`))
	require.NoError(t, err)

	data, err := Encode(in)
	require.NoError(t, err)
	out, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, in.PayloadNames(), out.PayloadNames())
	require.Equal(t, in.Fields, out.Fields)
	require.Equal(t, uint64(0xff), out.Keywords)
	require.Equal(t, 3, out.ProcessID)
}

func TestParseZeroRelativeIsPresent(t *testing.T) {
	ev, err := Parse([]byte(`{"event_name":"OpStart","relative_msec":0,"@timestamp":"2026-02-01T10:00:00Z"}`))
	require.NoError(t, err)
	require.True(t, ev.HasRelative)
	require.True(t, ev.Relative())

	ev, err = Parse([]byte(`{"event_name":"OpStart","@timestamp":"2026-02-01T10:00:00Z"}`))
	require.NoError(t, err)
	require.False(t, ev.HasRelative)
	require.False(t, ev.Relative())

	data, err := Encode(&models.TraceEvent{EventName: "OpStart", HasRelative: true})
	require.NoError(t, err)
	out, err := Parse(data)
	require.NoError(t, err)
	require.True(t, out.HasRelative)
}
