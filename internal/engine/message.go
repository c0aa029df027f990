package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// payloadReserve is the space left for message metadata when sizing the
// filler payload, so the serialized message lands near payload_size bytes.
const payloadReserve = 200

const producerName = "kafkaburst"

// Message is one synthetic load-test message.
type Message struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Sequence  int64     `json:"sequence"`
	Payload   string    `json:"payload"`
	Metadata  Metadata  `json:"metadata"`
}

// Metadata ties a message back to the run that produced it.
type Metadata struct {
	TestID   string `json:"test_id"`
	TestName string `json:"test_name"`
	Producer string `json:"producer"`
}

// BuildMessage constructs the message for one sequence slot. It is pure
// except for the timestamp, captured at call time. Payload content is
// deterministic filler; only its size matters.
func BuildMessage(seq int64, cfg RunConfig, runID string) Message {
	size := cfg.PayloadSize - payloadReserve
	if size < 1 {
		size = 1
	}

	name := cfg.TestName
	if name == "" {
		name = "unnamed"
	}

	u := uuid.New()
	return Message{
		ID:        fmt.Sprintf("msg-%x", u[:4]),
		Timestamp: time.Now().UTC(),
		Sequence:  seq,
		Payload:   strings.Repeat("x", size),
		Metadata: Metadata{
			TestID:   runID,
			TestName: name,
			Producer: producerName,
		},
	}
}
