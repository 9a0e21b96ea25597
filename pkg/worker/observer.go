package worker

import (
	"encoding/json"

	customlog "github.com/open-teleop/dronesim/pkg/log"
	"github.com/open-teleop/dronesim/pkg/protocol"
)

// RecordPublisher forwards exchange summaries, e.g. to a telemetry socket.
type RecordPublisher interface {
	PublishMessage(topic string, data []byte) error
}

// Summary is the JSON form of a Record.
type Summary struct {
	Seq        uint64          `json:"seq"`
	Phase      string          `json:"phase"`
	Position   protocol.Point  `json:"position"`
	Emergency  bool            `json:"emergency_stop"`
	Command    *protocol.Point `json:"command,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationUs int64           `json:"duration_us"`
}

// Summarize converts rec for logging or publishing.
func Summarize(rec *Record) Summary {
	s := Summary{
		Seq:        rec.Seq,
		Phase:      rec.Phase.String(),
		Position:   protocol.PointOf(rec.State.Position),
		Emergency:  rec.State.EmergencyStop,
		DurationUs: rec.Duration.Microseconds(),
	}
	if rec.Err != nil {
		s.Error = rec.Err.Error()
	} else {
		p := protocol.PointOf(rec.Command.Vec(rec.State.Position.Z()))
		s.Command = &p
	}
	return s
}

// LoggingObserver logs exchange records and optionally publishes them.
type LoggingObserver struct {
	logger    customlog.Logger
	publisher RecordPublisher
	topic     string
}

// NewLoggingObserver creates an observer. publisher may be nil.
func NewLoggingObserver(logger customlog.Logger, publisher RecordPublisher, topic string) *LoggingObserver {
	if topic == "" {
		topic = "exchange"
	}
	return &LoggingObserver{logger: logger, publisher: publisher, topic: topic}
}

// Observe implements Observer.
func (h *LoggingObserver) Observe(rec *Record) {
	if rec == nil {
		h.logger.Errorf("Received nil exchange record")
		return
	}

	jsonData, err := json.Marshal(Summarize(rec))
	if err != nil {
		h.logger.Errorf("Failed to encode exchange record %d: %v", rec.Seq, err)
		return
	}
	if len(jsonData) > 100 {
		h.logger.Debugf("Exchange: %s...", string(jsonData[:100]))
	} else {
		h.logger.Debugf("Exchange: %s", string(jsonData))
	}

	if h.publisher != nil {
		if err := h.publisher.PublishMessage(h.topic, jsonData); err != nil {
			h.logger.Errorf("Failed to publish exchange record on '%s': %v", h.topic, err)
		}
	}
}
