package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/open-teleop/dronesim/pkg/lidar"
	customlog "github.com/open-teleop/dronesim/pkg/log"
	"github.com/open-teleop/dronesim/pkg/worker"
)

// PointRow is one measured lidar cell in world space, tagged with the
// command the decision service answered with.
type PointRow struct {
	Session   string  `csv:"session"`
	Seq       uint64  `csv:"seq"`
	Timestamp int64   `csv:"timestamp_ms"`
	Row       int     `csv:"row"`
	Col       int     `csv:"col"`
	X         float64 `csv:"x"`
	Y         float64 `csv:"y"`
	Z         float64 `csv:"z"`
	DroneX    float64 `csv:"drone_x"`
	DroneY    float64 `csv:"drone_y"`
	DroneZ    float64 `csv:"drone_z"`
	CommandX  float64 `csv:"command_x"`
	CommandY  float64 `csv:"command_y"`
}

// ScanRecorder appends the point cloud of every successful polling
// exchange to a CSV file.
type ScanRecorder struct {
	session       string
	spacing       float64
	path          string
	file          *os.File
	headerWritten bool
	rows          int
	logger        customlog.Logger
	mu            sync.Mutex
}

var _ worker.Observer = (*ScanRecorder)(nil)

// NewScanRecorder creates dir if needed and opens
// dir/scan_<session>.csv. It returns nil when dir is empty.
func NewScanRecorder(dir, session string, spacing float64, logger customlog.Logger) (*ScanRecorder, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating sample directory: %w", err)
	}
	if spacing <= 0 {
		spacing = lidar.DefaultSpacing
	}

	path := filepath.Join(dir, fmt.Sprintf("scan_%s.csv", session))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	return &ScanRecorder{session: session, spacing: spacing, path: path, file: f, logger: logger}, nil
}

// Path returns the CSV file path.
func (r *ScanRecorder) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

// Rows returns how many rows have been written.
func (r *ScanRecorder) Rows() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows
}

// Observe implements worker.Observer.
func (r *ScanRecorder) Observe(rec *worker.Record) {
	if r == nil || !rec.OK() || rec.Grid == nil {
		return
	}
	if err := r.Write(rec); err != nil {
		r.logger.Errorf("Failed to record scan %d: %v", rec.Seq, err)
	}
}

// Write appends the measured cells of rec.
func (r *ScanRecorder) Write(rec *worker.Record) error {
	pos := rec.State.Position
	points := rec.Grid.Points(pos, r.spacing)
	if len(points) == 0 {
		return nil
	}

	records := make([]PointRow, len(points))
	for i, p := range points {
		records[i] = PointRow{
			Session:   r.session,
			Seq:       rec.Seq,
			Timestamp: rec.Started.UnixNano() / int64(time.Millisecond),
			Row:       p.Row,
			Col:       p.Col,
			X:         p.X(),
			Y:         p.Y(),
			Z:         p.Z(),
			DroneX:    pos.X(),
			DroneY:    pos.Y(),
			DroneZ:    pos.Z(),
			CommandX:  rec.Command.X,
			CommandY:  rec.Command.Y,
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return os.ErrClosed
	}

	if !r.headerWritten {
		if err := gocsv.Marshal(records, r.file); err != nil {
			return fmt.Errorf("writing samples: %w", err)
		}
		r.headerWritten = true
	} else {
		if err := gocsv.MarshalWithoutHeaders(records, r.file); err != nil {
			return fmt.Errorf("writing samples: %w", err)
		}
	}
	r.rows += len(records)
	return nil
}

// Close closes the file.
func (r *ScanRecorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
