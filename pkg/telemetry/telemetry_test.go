package telemetry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/open-teleop/dronesim/pkg/geom"
	"github.com/open-teleop/dronesim/pkg/lidar"
	customlog "github.com/open-teleop/dronesim/pkg/log"
	"github.com/open-teleop/dronesim/pkg/protocol"
	"github.com/open-teleop/dronesim/pkg/transport"
	"github.com/open-teleop/dronesim/pkg/worker"
	"github.com/pebbe/zmq4"
)

func pollingRecord(seq uint64) *worker.Record {
	return &worker.Record{
		Seq:     seq,
		Phase:   protocol.PhasePolling,
		State:   protocol.State{Position: geom.Vec3{100, 200, -50}},
		Grid:    lidar.Grid{{10, lidar.NoGround, 12}, {13, 14, 15}, {16, 17, 18}},
		Command: protocol.Command{X: 150, Y: 200},
		Queued:  true,
		Started: time.Unix(1700000000, 0),
	}
}

func TestFrameEncodeDecode(t *testing.T) {
	in := Frame{
		Timestamp:     time.Unix(0, 1700000000123456789),
		Session:       "a1b2",
		Position:      geom.Vec3{50.5, 200, -950},
		Grid:          lidar.Grid{{1, 2, 3}, {4, 5, 6}, {7, 8, lidar.NoGround}},
		Roll:          -0.25,
		Pitch:         0.125,
		EmergencyStop: true,
	}

	out, err := DecodeFrame(EncodeFrame(in))
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if !out.Timestamp.Equal(in.Timestamp) || out.Session != in.Session {
		t.Errorf("Header mismatch: %+v", out)
	}
	if out.Position != in.Position {
		t.Errorf("Expected position %v, got %v", in.Position, out.Position)
	}
	if out.Roll != in.Roll || out.Pitch != in.Pitch || !out.EmergencyStop {
		t.Errorf("Pose mismatch: %+v", out)
	}
	if out.Grid.Size() != 3 || out.Grid[2][2] != lidar.NoGround || out.Grid[1][0] != 4 {
		t.Errorf("Grid mismatch: %v", out.Grid)
	}
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	if _, err := DecodeFrame([]byte{1, 2}); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("Expected ErrInvalidFrame, got %v", err)
	}
	if _, err := DecodeFrame([]byte{0xff, 0xff, 0xff, 0x7f, 0, 0, 0, 0, 0, 0}); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("Expected ErrInvalidFrame for out-of-range offsets, got %v", err)
	}
}

func TestScanRecorder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "samples")
	rec, err := NewScanRecorder(dir, "s1", 25, customlog.NewNopLogger())
	if err != nil {
		t.Fatalf("NewScanRecorder failed: %v", err)
	}

	rec.Observe(pollingRecord(1))
	rec.Observe(pollingRecord(2))
	failed := pollingRecord(3)
	failed.Err = &transport.Error{Kind: transport.KindTransport, Err: errors.New("refused")}
	failed.Queued = false
	rec.Observe(failed)
	rec.Observe(&worker.Record{Seq: 4, Phase: protocol.PhaseHandshake, Queued: true})

	if rec.Rows() != 16 {
		t.Errorf("Expected 16 rows, got %d", rec.Rows())
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	f, err := os.Open(rec.Path())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	var rows []PointRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		t.Fatalf("Reading CSV failed: %v", err)
	}
	if len(rows) != 16 {
		t.Fatalf("Expected 16 rows in file, got %d", len(rows))
	}
	first := rows[0]
	if first.Seq != 1 || first.X != 75 || first.Z != -75 || first.Y != 10 || first.CommandX != 150 {
		t.Errorf("Unexpected first row %+v", first)
	}
	if rows[8].Seq != 2 {
		t.Errorf("Expected second scan to start at row 8, got %+v", rows[8])
	}
}

func TestScanRecorderDisabled(t *testing.T) {
	rec, err := NewScanRecorder("", "s", 25, nil)
	if err != nil || rec != nil {
		t.Fatalf("Expected nil recorder, got %v, %v", rec, err)
	}
	rec.Observe(pollingRecord(1))
	if err := rec.Close(); err != nil {
		t.Errorf("Close on nil recorder: %v", err)
	}
}

func TestJournalSQLite(t *testing.T) {
	db, err := OpenDatabase("sqlite", filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("OpenDatabase failed: %v", err)
	}
	j := NewJournal(db, "s1", 100, time.Hour, customlog.NewNopLogger())

	j.Observe(pollingRecord(1))
	failed := pollingRecord(2)
	failed.Err = &transport.Error{Kind: transport.KindProtocol, StatusCode: 500}
	failed.Queued = false
	j.Observe(failed)
	j.Observe(pollingRecord(3))
	j.Flush()

	entries, err := j.Recent(10)
	if err != nil || len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d (%v)", len(entries), err)
	}

	bySeq := map[uint64]ExchangeEntry{}
	for _, e := range entries {
		bySeq[e.Seq] = e
	}
	if e := bySeq[2]; e.ErrorKind != "protocol" || e.CommandX != nil {
		t.Errorf("Unexpected failed entry %+v", e)
	}
	if e := bySeq[1]; e.CommandX == nil || *e.CommandX != 150 || e.Phase != "polling" {
		t.Errorf("Unexpected successful entry %+v", e)
	}

	if err := j.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}

func TestOpenDatabaseUnknownDriver(t *testing.T) {
	if _, err := OpenDatabase("oracle", ""); err == nil {
		t.Errorf("Expected error for unsupported driver")
	}
}

func TestPublisherRenderFrame(t *testing.T) {
	pub, err := NewPublisher("tcp://127.0.0.1:*", customlog.NewNopLogger())
	if err != nil {
		t.Fatalf("NewPublisher failed: %v", err)
	}
	defer pub.Close()

	ctx, err := zmq4.NewContext()
	if err != nil {
		t.Fatalf("Failed to create ZMQ context: %v", err)
	}
	defer ctx.Term()
	sub, err := ctx.NewSocket(zmq4.SUB)
	if err != nil {
		t.Fatalf("Failed to create SUB socket: %v", err)
	}
	defer sub.Close()
	sub.SetLinger(0)
	sub.SetRcvtimeo(100 * time.Millisecond)
	if err := sub.Connect(pub.Address()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := sub.SetSubscribe(TopicScan); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	frame := Frame{Session: "s1", Position: geom.Vec3{1, 2, 3}, Grid: lidar.Grid{{7}}}

	// PUB drops messages until the subscription has propagated.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if err := pub.RenderFrame(frame); err != nil {
			t.Fatalf("RenderFrame failed: %v", err)
		}
		parts, err := sub.RecvMessageBytes(0)
		if err != nil {
			continue
		}
		if len(parts) != 2 || string(parts[0]) != TopicScan {
			t.Fatalf("Unexpected message parts %q", parts)
		}
		got, err := DecodeFrame(parts[1])
		if err != nil {
			t.Fatalf("DecodeFrame failed: %v", err)
		}
		if got.Position != frame.Position || got.Grid[0][0] != 7 {
			t.Errorf("Unexpected frame %+v", got)
		}
		return
	}
	t.Fatalf("No frame received")
}

func TestPublisherClosed(t *testing.T) {
	pub, err := NewPublisher("tcp://127.0.0.1:*", customlog.NewNopLogger())
	if err != nil {
		t.Fatalf("NewPublisher failed: %v", err)
	}
	pub.Close()
	if err := pub.PublishMessage("x", nil); !errors.Is(err, ErrPublisherClosed) {
		t.Errorf("Expected ErrPublisherClosed, got %v", err)
	}
}
