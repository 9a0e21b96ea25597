package protocol

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/open-teleop/dronesim/pkg/geom"
	"github.com/open-teleop/dronesim/pkg/lidar"
)

func decodeMap(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	return m
}

func TestSessionHandshakeThenPolling(t *testing.T) {
	targets := []geom.Vec3{{50, 200, -50}, {50, 200, -950}}
	s := NewSession("SURVEY", nil, targets)
	st := State{Position: geom.Vec3{50, 200, -50}}

	first, phase, err := s.Encode(st, lidar.Grid{{1}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if phase != PhaseHandshake {
		t.Errorf("Expected handshake phase, got %s", phase)
	}
	m := decodeMap(t, first)
	if m["test"] != "SURVEY" {
		t.Errorf("Expected mode SURVEY, got %v", m["test"])
	}
	if got := m["targets"].([]interface{}); len(got) != 2 {
		t.Errorf("Expected 2 targets, got %d", len(got))
	}
	if _, ok := m["lidar_below_drone"]; ok {
		t.Errorf("Handshake must not carry a lidar grid")
	}
	if _, ok := m["start"]; ok {
		t.Errorf("start must be omitted when not configured")
	}

	grid := lidar.Grid{{1, 2, 3}, {4, 5, 6}, {7, 8, lidar.NoGround}}
	second, phase, err := s.Encode(st, grid)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if phase != PhasePolling {
		t.Errorf("Expected polling phase, got %s", phase)
	}
	m = decodeMap(t, second)
	for _, key := range []string{"test", "targets", "start"} {
		if _, ok := m[key]; ok {
			t.Errorf("Polling message must not carry %q", key)
		}
	}

	var poll PollingMessage
	if err := json.Unmarshal(second, &poll); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(poll.Lidar, [][]float64(grid)) {
		t.Errorf("Expected grid %v, got %v", grid, poll.Lidar)
	}
	if poll.Current != (Point{50, 200, -50}) {
		t.Errorf("Unexpected current %+v", poll.Current)
	}
}

func TestSessionStartAndEmergency(t *testing.T) {
	start := geom.Vec3{200, 200, 0}
	s := NewSession("2DMT", &start, nil)
	msg, _ := s.Build(State{Position: start, EmergencyStop: true}, nil)

	hs, ok := msg.(HandshakeMessage)
	if !ok {
		t.Fatalf("Expected HandshakeMessage, got %T", msg)
	}
	if hs.Start == nil || *hs.Start != (Point{200, 200, 0}) {
		t.Errorf("Unexpected start %+v", hs.Start)
	}
	if !hs.EmergencyStop {
		t.Errorf("Expected emergency stop flag")
	}
	if hs.Targets == nil || len(hs.Targets) != 0 {
		t.Errorf("Expected empty, non-nil targets, got %v", hs.Targets)
	}
}

func TestSessionRewindAndTargets(t *testing.T) {
	s := NewSession("3DA", nil, nil)
	if err := s.AddTarget(geom.Vec3{1, 2, 3}); err != nil {
		t.Fatalf("AddTarget failed: %v", err)
	}
	_, _ = s.Build(State{}, nil)

	if err := s.AddTarget(geom.Vec3{4, 5, 6}); !errors.Is(err, ErrSessionStarted) {
		t.Errorf("Expected ErrSessionStarted, got %v", err)
	}

	s.Rewind()
	if s.Phase() != PhaseHandshake {
		t.Fatalf("Expected handshake after Rewind")
	}
	msg, phase := s.Build(State{}, lidar.Grid{{1}})
	if phase != PhaseHandshake {
		t.Errorf("Expected handshake to be resent")
	}
	if hs := msg.(HandshakeMessage); len(hs.Targets) != 1 || hs.Test != "3DA" {
		t.Errorf("Unexpected resent handshake %+v", hs)
	}
}

func TestEncodeReset(t *testing.T) {
	data, err := EncodeReset()
	if err != nil {
		t.Fatalf("EncodeReset failed: %v", err)
	}
	want := `{"test":"RESET","current":{"x":0,"y":0,"z":0},"targets":[]}`
	if string(data) != want {
		t.Errorf("Expected %s, got %s", want, data)
	}
}

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    Command
		wantErr bool
	}{
		{"x and y", `{"x":300,"y":200}`, Command{X: 300, Y: 200}, false},
		{"with z", `{"x":1,"y":2,"z":-3.5}`, Command{X: 1, Y: 2, Z: -3.5, HasZ: true}, false},
		{"extra fields", `{"x":1,"y":2,"phase":"CRUISE"}`, Command{X: 1, Y: 2}, false},
		{"missing y", `{"x":1}`, Command{}, true},
		{"null x", `{"x":null,"y":1}`, Command{}, true},
		{"string x", `{"x":"1","y":1}`, Command{}, true},
		{"not json", `<html>`, Command{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeCommand([]byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedCommand) {
					t.Errorf("Expected ErrMalformedCommand, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeCommand failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestCommandApply(t *testing.T) {
	target := geom.Vec3{0, 0, -40}
	if got := (Command{X: 300, Y: 200}).Apply(target); got != (geom.Vec3{300, 200, -40}) {
		t.Errorf("Expected z to be kept, got %v", got)
	}
	if got := (Command{X: 1, Y: 2, Z: 3, HasZ: true}).Apply(target); got != (geom.Vec3{1, 2, 3}) {
		t.Errorf("Expected z to be replaced, got %v", got)
	}
}
