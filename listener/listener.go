// Package listener defines how a consumer subscribes to messages produced by a SENSR engine.
//
// A listener declares at construction which message categories it wants. The dispatcher
// queries that declaration before delivering anything and reports upstream failures
// through OnError.
package listener

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/neuroplastio/sensr-agent/sensrapi"
)

// ListeningType is a bitmask of the message categories a listener wants delivered.
// Bits without a named category are kept as given.
type ListeningType uint32

const (
	OutputMessage ListeningType = 1 << iota
	PointResult

	None ListeningType = 0
)

// Has reports whether any bit of flag is set in t.
func (t ListeningType) Has(flag ListeningType) bool {
	return t&flag != 0
}

func (t ListeningType) String() string {
	if t == None {
		return "none"
	}
	var parts []string
	if t.Has(OutputMessage) {
		parts = append(parts, "output_message")
	}
	if t.Has(PointResult) {
		parts = append(parts, "point_result")
	}
	if rest := t &^ (OutputMessage | PointResult); rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// Error is the kind of failure reported to a listener.
type Error uint8

const (
	// ErrorConnection means the connection to the SENSR engine was lost.
	ErrorConnection Error = iota + 1
)

func (e Error) String() string {
	switch e {
	case ErrorConnection:
		return "connection"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(e))
	}
}

// Listener is what a dispatcher queries before delivery and notifies on failure.
type Listener interface {
	IsOutputMessageListening() bool
	IsPointResultListening() bool
	OnError(kind Error, reason string)
}

// OutputMessageListener receives output messages when it declares OutputMessage.
type OutputMessageListener interface {
	Listener
	OnOutputMessage(msg *sensrapi.OutputMessage)
}

// PointResultListener receives point results when it declares PointResult.
type PointResultListener interface {
	Listener
	OnPointResult(msg *sensrapi.PointResult)
}

type options struct {
	errOut io.Writer
}

type Option func(*options)

// WithErrorOutput sets where connection diagnostics are written. Defaults to os.Stderr.
func WithErrorOutput(w io.Writer) Option {
	return func(o *options) {
		o.errOut = w
	}
}

// MessageListener is meant to be embedded by concrete listeners, which add
// OnOutputMessage and OnPointResult as needed.
type MessageListener struct {
	listeningType ListeningType
	errOut        io.Writer
}

// New accepts any mask, including zero and bits that have no meaning yet.
func New(listeningType ListeningType, opts ...Option) MessageListener {
	o := options{errOut: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}
	return MessageListener{
		listeningType: listeningType,
		errOut:        o.errOut,
	}
}

func (l MessageListener) ListeningType() ListeningType {
	return l.listeningType
}

func (l MessageListener) IsOutputMessageListening() bool {
	return l.listeningType.Has(OutputMessage)
}

func (l MessageListener) IsPointResultListening() bool {
	return l.listeningType.Has(PointResult)
}

// OnError reports a lost connection on the error output. Unrecognized kinds are ignored.
func (l MessageListener) OnError(kind Error, reason string) {
	switch kind {
	case ErrorConnection:
		w := l.errOut
		if w == nil {
			w = os.Stderr
		}
		fmt.Fprintf(w, "Lost SENSR Connection fail(Reason: %s). Please reconnect.\n", reason)
	default:
	}
}
