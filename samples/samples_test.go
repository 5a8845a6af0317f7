package samples

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/neuroplastio/sensr-agent/listener"
	"github.com/neuroplastio/sensr-agent/sensrapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnv(out, errOut *bytes.Buffer) Env {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return Env{
		Out:    out,
		ErrOut: errOut,
		Now:    func() time.Time { return now },
	}
}

func lines(buf *bytes.Buffer) []string {
	s := strings.TrimRight(buf.String(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(Env{})
	assert.Equal(t, []string{"bank", "health", "object", "point", "time", "zone"}, r.Names())

	type capabilities struct{ output, point bool }
	expected := map[string]capabilities{
		"bank":   {output: true},
		"health": {output: true},
		"object": {output: true},
		"point":  {point: true},
		"time":   {output: true},
		"zone":   {output: true},
	}
	for name, caps := range expected {
		l, err := r.New(name, nil)
		require.NoError(t, err, name)
		assert.Equal(t, caps.output, l.IsOutputMessageListening(), name)
		assert.Equal(t, caps.point, l.IsPointResultListening(), name)
		if caps.output {
			assert.Implements(t, (*listener.OutputMessageListener)(nil), l, name)
		}
		if caps.point {
			assert.Implements(t, (*listener.PointResultListener)(nil), l, name)
		}
	}

	_, err := r.New("bank", json.RawMessage(`{"atms": "nope"}`))
	assert.Error(t, err)
}

func TestOnErrorRequestsReconnect(t *testing.T) {
	var out, errOut bytes.Buffer
	var reasons []string
	env := testEnv(&out, &errOut)
	env.Reconnect = func(reason string) {
		reasons = append(reasons, reason)
	}
	l := NewZoneEventListener(env)

	l.OnError(listener.ErrorConnection, "timeout")
	l.OnError(listener.Error(9), "other")

	assert.Equal(t, []string{"timeout"}, reasons)
	assert.Equal(t, "Lost SENSR Connection fail(Reason: timeout). Please reconnect.\n", errOut.String())
}

func TestZoneEventListener(t *testing.T) {
	var out, errOut bytes.Buffer
	l := NewZoneEventListener(testEnv(&out, &errOut))

	l.OnOutputMessage(&sensrapi.OutputMessage{})
	l.OnOutputMessage(&sensrapi.OutputMessage{Event: &sensrapi.EventMessage{
		Zone: []sensrapi.ZoneEvent{
			{ID: 3, Type: sensrapi.ZoneEntry, Object: sensrapi.Object{ID: 11}},
			{ID: 3, Type: sensrapi.ZoneExit, Object: sensrapi.Object{ID: 11}},
		},
	}})

	assert.Equal(t, []string{
		"Entering zone (3) : obj (11)",
		"Exiting zone (3) : obj (11)",
	}, lines(&out))
}

func TestPointResultListener(t *testing.T) {
	var out, errOut bytes.Buffer
	l := NewPointResultListener(testEnv(&out, &errOut))

	l.OnPointResult(&sensrapi.PointResult{Points: []sensrapi.PointCloud{
		{ID: "lidar", Type: sensrapi.PointCloudRaw, Points: make([]float32, 9), Intensities: []float32{1, 3, 2}},
		{Type: sensrapi.PointCloudGround, Points: make([]float32, 6)},
		{Type: sensrapi.PointCloudBackground, Points: make([]float32, 3), Intensities: []float32{0.5}},
	}})

	assert.Equal(t, []string{
		"Topic (lidar) no. of points - 3. Min and max intensity is [1, 3]",
		"Intensity [min, median, max] is [1, 2, 3]",
		"Ground points no. of points - 2.",
		"Environment points no. of points - 1",
		"Point intensity [min, median, max] is [0.5, 0.5, 0.5]",
	}, lines(&out))
}

func TestObjectListener(t *testing.T) {
	var out, errOut bytes.Buffer
	l := NewObjectListener(testEnv(&out, &errOut))

	l.OnOutputMessage(&sensrapi.OutputMessage{Stream: &sensrapi.StreamMessage{Objects: []sensrapi.Object{{
		ID:             4,
		Label:          sensrapi.LabelCar,
		TrackingStatus: sensrapi.TrackingTracking,
		Points:         make([]float32, 6),
		Intensities:    []float32{2, 4},
	}}}})

	got := lines(&out)
	require.Len(t, got, 7)
	assert.Equal(t, "Obj (4): point no. 2", got[0])
	assert.Equal(t, "Obj (4): point intensity [min, median, max] is [2, 3, 4]", got[1])
	assert.Equal(t, "Obj (4): tracking status TRACKING", got[4])
	assert.Equal(t, "Obj (4): Object type LABEL_CAR", got[5])
}

func TestHealthListener(t *testing.T) {
	var out, errOut bytes.Buffer
	l := NewHealthListener(testEnv(&out, &errOut))

	l.OnOutputMessage(&sensrapi.OutputMessage{Stream: &sensrapi.StreamMessage{Health: &sensrapi.SystemHealth{Master: "OK"}}})
	l.OnOutputMessage(&sensrapi.OutputMessage{Stream: &sensrapi.StreamMessage{Health: &sensrapi.SystemHealth{
		Master: "OK",
		Nodes: map[string]sensrapi.NodeHealth{
			"b": {Status: "OK"},
			"a": {Status: "DEGRADED", Sensors: map[string]string{"s2": "LOST", "s1": "OK"}},
		},
	}}})

	assert.Equal(t, []string{
		"System health: OK",
		"  No nodes are connected",
		"System health: OK",
		"  Node (a) health: DEGRADED",
		"    Sensor (s1) health: OK",
		"    Sensor (s2) health: LOST",
		"  Node (b) health: OK",
		"    No sensors are connected",
	}, lines(&out))
}

func TestTimeChecker(t *testing.T) {
	var out, errOut bytes.Buffer
	env := testEnv(&out, &errOut)
	l := NewTimeChecker(env)

	l.OnOutputMessage(&sensrapi.OutputMessage{Timestamp: env.Now().Add(-250 * time.Millisecond)})

	assert.Equal(t, []string{"Diff: 250 ms"}, lines(&out))
}
