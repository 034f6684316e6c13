package publish

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"
)

// ChunkSize is the number of messages per chunk file.
const ChunkSize = 1000

const chunkPattern = "chunk_*.pb"

// LogHeader describes a recorded run.
type LogHeader struct {
	Version       string         `json:"version"`
	RunID         string         `json:"run_id"`
	CreatedNs     int64          `json:"created_ns"`
	TotalMessages uint64         `json:"total_messages"`
	StartNs       int64          `json:"start_ns"`
	EndNs         int64          `json:"end_ns"`
	Topics        map[string]int `json:"topics"`
}

// Recorder writes published messages to a directory of length-delimited
// protobuf chunks. Each record is a google.protobuf.Struct with the topic,
// timestamp, run id and the message body.
type Recorder struct {
	basePath string
	header   LogHeader

	mu           sync.Mutex
	chunk        *os.File
	chunkWriter  *bufio.Writer
	currentChunk int
	closed       bool
}

// NewRecorder creates basePath and starts a run with a fresh id.
func NewRecorder(basePath string) (*Recorder, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &Recorder{
		basePath:     basePath,
		currentChunk: -1,
		header: LogHeader{
			Version:   "1",
			RunID:     uuid.NewString(),
			CreatedNs: time.Now().UnixNano(),
			Topics:    make(map[string]int),
		},
	}, nil
}

// RunID identifies this recording.
func (r *Recorder) RunID() string { return r.header.RunID }

// Record appends one envelope.
func (r *Recorder) Record(env Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("recorder is closed")
	}

	rec, err := encodeEnvelope(env, r.header.RunID)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", env.Topic, err)
	}

	chunkIdx := int(r.header.TotalMessages / ChunkSize)
	if chunkIdx != r.currentChunk {
		if err := r.rotateChunk(chunkIdx); err != nil {
			return err
		}
	}
	if _, err := protodelim.MarshalTo(r.chunkWriter, rec); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	ns := env.MonoTime.UnixNano()
	if r.header.StartNs == 0 {
		r.header.StartNs = ns
	}
	r.header.EndNs = ns
	r.header.TotalMessages++
	r.header.Topics[env.Topic]++
	return nil
}

func (r *Recorder) rotateChunk(idx int) error {
	if err := r.closeChunk(); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(r.basePath, fmt.Sprintf("chunk_%04d.pb", idx)))
	if err != nil {
		return fmt.Errorf("failed to create chunk file: %w", err)
	}
	r.chunk = f
	r.chunkWriter = bufio.NewWriter(f)
	r.currentChunk = idx
	return nil
}

func (r *Recorder) closeChunk() error {
	if r.chunk == nil {
		return nil
	}
	if err := r.chunkWriter.Flush(); err != nil {
		r.chunk.Close()
		return err
	}
	err := r.chunk.Close()
	r.chunk, r.chunkWriter = nil, nil
	return err
}

// Run records every message published on bus until ctx ends or the bus
// closes the subscription, then closes the recorder.
func (r *Recorder) Run(ctx context.Context, bus *Bus) error {
	id, ch := bus.Subscribe()
	defer bus.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return errors.Join(r.drain(ch), r.Close())
		case env, ok := <-ch:
			if !ok {
				return r.Close()
			}
			if err := r.Record(env); err != nil {
				return errors.Join(err, r.Close())
			}
		}
	}
}

func (r *Recorder) drain(ch <-chan Envelope) error {
	for {
		select {
		case env, ok := <-ch:
			if !ok {
				return nil
			}
			if err := r.Record(env); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// Close flushes the last chunk and writes header.json.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.closeChunk(); err != nil {
		return fmt.Errorf("failed to close chunk: %w", err)
	}
	data, err := json.MarshalIndent(r.header, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if err := os.WriteFile(filepath.Join(r.basePath, "header.json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

func encodeEnvelope(env Envelope, runID string) (*structpb.Struct, error) {
	body, err := json.Marshal(env.Msg)
	if err != nil {
		return nil, err
	}
	var fields any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	msg, err := structpb.NewValue(fields)
	if err != nil {
		return nil, err
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"topic":   structpb.NewStringValue(env.Topic),
		"mono_ns": structpb.NewStringValue(strconv.FormatInt(env.MonoTime.UnixNano(), 10)),
		"run_id":  structpb.NewStringValue(runID),
		"msg":     msg,
	}}, nil
}

// Record is one decoded log entry.
type Record struct {
	Topic   string
	MonoNs  int64
	RunID   string
	Message map[string]any
}

// ReadHeader loads header.json from a recording directory.
func ReadHeader(basePath string) (*LogHeader, error) {
	data, err := os.ReadFile(filepath.Join(basePath, "header.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	var h LogHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}
	return &h, nil
}

// ReadLog calls fn for every record in chunk order. Returning an error from
// fn stops the walk.
func ReadLog(basePath string, fn func(Record) error) error {
	chunks, err := filepath.Glob(filepath.Join(basePath, chunkPattern))
	if err != nil {
		return err
	}
	sort.Strings(chunks)
	for _, path := range chunks {
		if err := readChunk(path, fn); err != nil {
			return err
		}
	}
	return nil
}

func readChunk(path string, fn func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	br := bufio.NewReader(f)
	for {
		var s structpb.Struct
		if err := protodelim.UnmarshalFrom(br, &s); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		mono, _ := strconv.ParseInt(s.Fields["mono_ns"].GetStringValue(), 10, 64)
		rec := Record{
			Topic:  s.Fields["topic"].GetStringValue(),
			MonoNs: mono,
			RunID:  s.Fields["run_id"].GetStringValue(),
		}
		if m := s.Fields["msg"].GetStructValue(); m != nil {
			rec.Message = m.AsMap()
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}
