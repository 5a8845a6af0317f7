package samples

import (
	"bytes"
	"testing"
	"time"

	"github.com/neuroplastio/sensr-agent/sensrapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func at(sec float64) time.Time {
	return t0.Add(seconds(sec))
}

func person(id int32, zones ...int32) sensrapi.Object {
	return sensrapi.Object{
		ID:      id,
		Label:   sensrapi.LabelPedestrian,
		BBox:    sensrapi.BoundingBox{Size: sensrapi.Vector3{X: 0.5, Y: 0.5, Z: 1.7}},
		ZoneIDs: zones,
	}
}

func stream(ts time.Time, objs ...sensrapi.Object) *sensrapi.OutputMessage {
	return &sensrapi.OutputMessage{Timestamp: ts, Stream: &sensrapi.StreamMessage{Objects: objs}}
}

func losing(ts time.Time, id int32) *sensrapi.OutputMessage {
	return &sensrapi.OutputMessage{Timestamp: ts, Event: &sensrapi.EventMessage{
		Losing: []sensrapi.LosingEvent{{ID: id, Timestamp: ts}},
	}}
}

func zoneEvent(ts time.Time, zone, obj int32, typ sensrapi.ZoneEventType) *sensrapi.OutputMessage {
	return &sensrapi.OutputMessage{Timestamp: ts, Event: &sensrapi.EventMessage{
		Zone: []sensrapi.ZoneEvent{{ID: zone, Type: typ, Object: sensrapi.Object{ID: obj}, Timestamp: ts}},
	}}
}

func TestCumulativeAvg(t *testing.T) {
	var avg CumulativeAvg
	assert.Zero(t, avg.Get())
	for _, v := range []float64{2, 4, 9} {
		avg.Update(v)
	}
	assert.InDelta(t, 5.0, avg.Get(), 1e-9)
	assert.Equal(t, 3, avg.Count())
}

func TestATM(t *testing.T) {
	atm := NewATM(1007, 2*time.Second)

	atm.OnEnter(1, at(0))
	atm.OnEnter(1, at(5))
	require.NoError(t, atm.OnExit(1, at(10)))
	assert.InDelta(t, 10.0, atm.AvgResidentTime(), 1e-9)

	atm.OnEnter(2, at(20))
	require.NoError(t, atm.OnExit(2, at(21)))
	assert.InDelta(t, 10.0, atm.AvgResidentTime(), 1e-9, "stays under the noise threshold are ignored")

	assert.ErrorIs(t, atm.OnExit(3, at(30)), errNotInATM)
}

func TestBankResidentTime(t *testing.T) {
	var out, errOut bytes.Buffer
	cfg := DefaultBankConfig()
	cfg.Zones = map[int32]string{1007: "ATM corner"}
	bank := NewBank(testEnv(&out, &errOut), cfg)

	bank.OnOutputMessage(stream(at(0), person(1)))
	bank.OnOutputMessage(stream(at(1), person(1, 1007)))
	bank.OnOutputMessage(zoneEvent(at(1), 1007, 1, sensrapi.ZoneEntry))
	bank.OnOutputMessage(zoneEvent(at(31), 1007, 1, sensrapi.ZoneExit))
	bank.OnOutputMessage(losing(at(40), 1))

	assert.Equal(t, []string{
		"ATM(1007) avg: 30.00s.",
		"Obj(1) resident_time: 40.00, Avg: 40.00, Starting Zone: ATM corner",
	}, lines(&out))
	assert.InDelta(t, 40.0, bank.AvgResidentTime(), 1e-9)
	avg, ok := bank.ATMAvgResidentTime(1007)
	require.True(t, ok)
	assert.InDelta(t, 30.0, avg, 1e-9)
	_, ok = bank.ATMAvgResidentTime(42)
	assert.False(t, ok)
}

func TestBankConcurrentReads(t *testing.T) {
	var out, errOut bytes.Buffer
	bank := NewBank(testEnv(&out, &errOut), DefaultBankConfig())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			bank.ATMAvgResidentTime(1007)
			bank.AvgResidentTime()
		}
	}()
	for i := 0; i < 50; i++ {
		bank.OnOutputMessage(zoneEvent(at(float64(2*i)), 1007, 1, sensrapi.ZoneEntry))
		bank.OnOutputMessage(zoneEvent(at(float64(2*i+1)+5), 1007, 1, sensrapi.ZoneExit))
	}
	<-done

	avg, ok := bank.ATMAvgResidentTime(1007)
	require.True(t, ok)
	assert.Greater(t, avg, 0.0)
}

func TestBankClassifiesMiscAndDoors(t *testing.T) {
	var out, errOut bytes.Buffer
	bank := NewBank(testEnv(&out, &errOut), DefaultBankConfig())

	misc := person(2)
	misc.Label = sensrapi.LabelMisc
	door := person(3)
	door.BBox.Size.Z = 2.8

	bank.OnOutputMessage(stream(at(0), misc, door, person(4)))
	bank.OnOutputMessage(losing(at(5), 2))
	bank.OnOutputMessage(losing(at(5), 3))
	bank.OnOutputMessage(losing(at(5), 4))
	bank.OnOutputMessage(losing(at(5), 99))

	assert.Equal(t, []string{
		"Obj(2) is misc.",
		"Obj(3) is door.",
		"Obj(4) resident_time: 5.00, Avg: 5.00, Starting Zone: No Zone",
	}, lines(&out))
}

func TestBankDropsLongResidents(t *testing.T) {
	var out, errOut bytes.Buffer
	cfg := DefaultBankConfig()
	cfg.ResidentTimeoutSeconds = 10
	bank := NewBank(testEnv(&out, &errOut), cfg)

	bank.OnOutputMessage(stream(at(0), person(5)))
	bank.OnOutputMessage(stream(at(5), person(5)))
	bank.OnOutputMessage(stream(at(11), person(5)))
	bank.OnOutputMessage(losing(at(12), 5))

	assert.Equal(t, []string{"Obj(5) lives in bank too long."}, lines(&out))
}

func TestBankZoneNames(t *testing.T) {
	var out, errOut bytes.Buffer
	bank := NewBank(testEnv(&out, &errOut), DefaultBankConfig())
	bank.SetZones(map[int32]string{8: "Lobby"})

	bank.OnOutputMessage(stream(at(0), person(6, 8)))
	bank.OnOutputMessage(stream(at(0), person(7, 9)))
	bank.OnOutputMessage(losing(at(2), 6))
	bank.OnOutputMessage(losing(at(4), 7))

	assert.Equal(t, []string{
		"Obj(6) resident_time: 2.00, Avg: 2.00, Starting Zone: Lobby",
		"Obj(7) resident_time: 4.00, Avg: 3.00, Starting Zone: Zone 9",
	}, lines(&out))
}

func TestBankUnknownATMExit(t *testing.T) {
	var out, errOut bytes.Buffer
	bank := NewBank(testEnv(&out, &errOut), DefaultBankConfig())

	bank.OnOutputMessage(zoneEvent(at(3), 1008, 42, sensrapi.ZoneExit))
	bank.OnOutputMessage(zoneEvent(at(3), 5, 42, sensrapi.ZoneExit))

	assert.Equal(t, []string{"ATM(1008) avg: 0.00s."}, lines(&out))
}
