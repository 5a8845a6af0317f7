// Package recordsvc stores SENSR messages in badger and plays them back to a dispatcher.
package recordsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/ghodss/yaml"
	"github.com/neuroplastio/sensr-agent/internal/dispatchsvc"
	"github.com/neuroplastio/sensr-agent/listener"
	"github.com/neuroplastio/sensr-agent/sensrapi"
	"go.uber.org/zap"
)

const (
	recordPrefix = "sensr/records/"
	sequenceKey  = "sensr/sequence"

	// ReplayFinishedReason is reported with listener.ErrorConnection when a replay runs out of records.
	ReplayFinishedReason = "replay finished"
)

var ErrInvalidRecord = errors.New("record must hold exactly one of output or point")

type Record struct {
	Seq        uint64                  `json:"seq,omitempty"`
	ReceivedAt time.Time               `json:"receivedAt"`
	Output     *sensrapi.OutputMessage `json:"output,omitempty"`
	Point      *sensrapi.PointResult   `json:"point,omitempty"`
}

func (r Record) validate() error {
	if (r.Output == nil) == (r.Point == nil) {
		return ErrInvalidRecord
	}
	return nil
}

type Service struct {
	log *zap.Logger
	db  *badger.DB
	now func() time.Time
	seq *badger.Sequence
}

func New(db *badger.DB, log *zap.Logger, now func() time.Time) (*Service, error) {
	seq, err := db.GetSequence([]byte(sequenceKey), 128)
	if err != nil {
		return nil, fmt.Errorf("failed to open record sequence: %w", err)
	}
	return &Service{
		log: log,
		db:  db,
		now: now,
		seq: seq,
	}, nil
}

func (s *Service) Close() error {
	return s.seq.Release()
}

func recordKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", recordPrefix, seq))
}

func (s *Service) Append(rec Record) (Record, error) {
	if err := rec.validate(); err != nil {
		return Record{}, err
	}
	seq, err := s.seq.Next()
	if err != nil {
		return Record{}, fmt.Errorf("failed to allocate sequence: %w", err)
	}
	// sequences start at zero, keep zero meaning "unset"
	rec.Seq = seq + 1
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = s.now()
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("failed to marshal record: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec.Seq), b)
	})
	if err != nil {
		return Record{}, fmt.Errorf("failed to store record: %w", err)
	}
	return rec, nil
}

// List calls fn for every record in sequence order. Returning an error from fn stops iteration.
func (s *Service) List(fn func(rec Record) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		iter := txn.NewIterator(badger.DefaultIteratorOptions)
		defer iter.Close()
		prefix := []byte(recordPrefix)
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			var rec Record
			err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal record %s: %w", iter.Item().Key(), err)
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Service) Count() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		iter := txn.NewIterator(opts)
		defer iter.Close()
		prefix := []byte(recordPrefix)
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// Import reads a YAML or JSON list of records and appends them in order.
func (s *Service) Import(r io.Reader) (int, error) {
	yamlB, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("failed to read records: %w", err)
	}
	jsonB, err := yaml.YAMLToJSON(yamlB)
	if err != nil {
		return 0, fmt.Errorf("failed to convert yaml to json: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(jsonB, &records); err != nil {
		return 0, fmt.Errorf("failed to unmarshal records: %w", err)
	}
	for i, rec := range records {
		if err := rec.validate(); err != nil {
			return 0, fmt.Errorf("record %d: %w", i, err)
		}
	}
	for i, rec := range records {
		rec.Seq = 0
		if _, err := s.Append(rec); err != nil {
			return i, err
		}
	}
	s.log.Info("Records imported", zap.Int("count", len(records)))
	return len(records), nil
}

type ReplayOptions struct {
	// Realtime keeps the recorded spacing between records.
	Realtime bool
}

// Replay publishes every record to sink. Running out of records looks like a lost
// connection to the listeners, so it is reported as one.
func (s *Service) Replay(ctx context.Context, sink dispatchsvc.Sink, opts ReplayOptions) error {
	var last time.Time
	n := 0
	err := s.List(func(rec Record) error {
		if opts.Realtime && !last.IsZero() {
			if d := rec.ReceivedAt.Sub(last); d > 0 {
				t := time.NewTimer(d)
				select {
				case <-ctx.Done():
					t.Stop()
					return ctx.Err()
				case <-t.C:
				}
			}
		}
		last = rec.ReceivedAt
		switch {
		case rec.Output != nil:
			sink.PublishOutputMessage(ctx, rec.Output)
		case rec.Point != nil:
			sink.PublishPointResult(ctx, rec.Point)
		}
		n++
		return ctx.Err()
	})
	switch {
	case ctx.Err() != nil:
		return nil
	case err != nil:
		sink.ReportError(listener.ErrorConnection, err.Error())
		return fmt.Errorf("replay failed: %w", err)
	}
	if err := sink.Flush(ctx); err != nil {
		return nil
	}
	s.log.Info("Replay finished", zap.Int("records", n))
	sink.ReportError(listener.ErrorConnection, ReplayFinishedReason)
	return nil
}

// Recorder returns a listener storing everything it receives.
func (s *Service) Recorder() *Recorder {
	return &Recorder{
		MessageListener: listener.New(listener.OutputMessage | listener.PointResult),
		svc:             s,
	}
}

type Recorder struct {
	listener.MessageListener
	svc *Service
}

func (r *Recorder) OnOutputMessage(msg *sensrapi.OutputMessage) {
	r.append(Record{Output: msg})
}

func (r *Recorder) OnPointResult(msg *sensrapi.PointResult) {
	r.append(Record{Point: msg})
}

func (r *Recorder) append(rec Record) {
	if _, err := r.svc.Append(rec); err != nil {
		r.svc.log.Error("Failed to record message", zap.Error(err))
	}
}
