// Package telemetry streams and records what the simulation produces:
// flatbuffers scan frames over a ZeroMQ PUB socket, point-cloud CSV
// samples and a database journal of every exchange.
package telemetry

import (
	"errors"
	"fmt"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"
	fb "github.com/open-teleop/dronesim/pkg/flatbuffers/dronesim/telemetry"
	"github.com/open-teleop/dronesim/pkg/geom"
	"github.com/open-teleop/dronesim/pkg/lidar"
)

// ErrInvalidFrame is returned for buffers that do not hold a ScanFrame.
var ErrInvalidFrame = errors.New("invalid scan frame")

// Frame is one renderer update: the drone pose and the latest scan.
type Frame struct {
	Timestamp     time.Time
	Session       string
	Position      geom.Vec3
	Grid          lidar.Grid
	Roll          float64
	Pitch         float64
	EmergencyStop bool
}

// EncodeFrame serializes f as a ScanFrame flatbuffer.
func EncodeFrame(f Frame) []byte {
	builder := flatbuffers.NewBuilder(256)

	session := builder.CreateString(f.Session)

	cells := f.Grid.Flatten()
	fb.ScanFrameStartHeightsVector(builder, len(cells))
	for i := len(cells) - 1; i >= 0; i-- {
		builder.PrependFloat32(float32(cells[i]))
	}
	heights := builder.EndVector(len(cells))

	fb.ScanFrameStart(builder)
	fb.ScanFrameAddTimestampNs(builder, f.Timestamp.UnixNano())
	fb.ScanFrameAddSession(builder, session)
	fb.ScanFrameAddPosX(builder, f.Position.X())
	fb.ScanFrameAddPosY(builder, f.Position.Y())
	fb.ScanFrameAddPosZ(builder, f.Position.Z())
	fb.ScanFrameAddGridSize(builder, int32(f.Grid.Size()))
	fb.ScanFrameAddHeights(builder, heights)
	fb.ScanFrameAddRoll(builder, float32(f.Roll))
	fb.ScanFrameAddPitch(builder, float32(f.Pitch))
	fb.ScanFrameAddEmergencyStop(builder, f.EmergencyStop)
	frame := fb.ScanFrameEnd(builder)
	fb.FinishScanFrameBuffer(builder, frame)

	return builder.FinishedBytes()
}

// DecodeFrame parses a ScanFrame flatbuffer. Heights come back with
// float32 precision.
func DecodeFrame(buf []byte) (f Frame, err error) {
	if len(buf) < 8 {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrInvalidFrame, len(buf))
	}
	defer func() {
		if r := recover(); r != nil {
			f, err = Frame{}, fmt.Errorf("%w: %v", ErrInvalidFrame, r)
		}
	}()

	sf := fb.GetRootAsScanFrame(buf, 0)
	n := int(sf.GridSize())
	if n < 0 || n*n != sf.HeightsLength() {
		return Frame{}, fmt.Errorf("%w: grid size %d with %d heights", ErrInvalidFrame, n, sf.HeightsLength())
	}

	grid := make(lidar.Grid, n)
	for i := range grid {
		row := make([]float64, n)
		for j := range row {
			row[j] = float64(sf.Heights(i*n + j))
		}
		grid[i] = row
	}

	return Frame{
		Timestamp:     time.Unix(0, sf.TimestampNs()),
		Session:       string(sf.Session()),
		Position:      geom.Vec3{sf.PosX(), sf.PosY(), sf.PosZ()},
		Grid:          grid,
		Roll:          float64(sf.Roll()),
		Pitch:         float64(sf.Pitch()),
		EmergencyStop: sf.EmergencyStop(),
	}, nil
}
