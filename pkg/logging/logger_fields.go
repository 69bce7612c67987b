package logging

import (
	"fmt"
	"time"

	"github.com/dd0wney/onechain/pkg/digest"
)

func String(key, value string) Field         { return Field{Key: key, Value: value} }
func Int(key string, value int) Field         { return Field{Key: key, Value: value} }
func Int64(key string, value int64) Field     { return Field{Key: key, Value: value} }
func Uint64(key string, value uint64) Field   { return Field{Key: key, Value: value} }
func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field       { return Field{Key: key, Value: value} }
func Any(key string, value any) Field         { return Field{Key: key, Value: value} }

// Duration renders value in Go duration syntax
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Error stores the message only; a nil error logs as null
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Stringer defers to v.String(), which keeps typed enums such as codecs and
// data sources readable in the output
func Stringer(key string, v fmt.Stringer) Field {
	return Field{Key: key, Value: v.String()}
}

func Component(name string) Field { return String("component", name) }
func Path(p string) Field         { return String("path", p) }
func Count(n int) Field           { return Int("count", n) }
func Bytes(n int64) Field         { return Int64("bytes", n) }

func Digest(d digest.Digest) Field { return String("digest", d.String()) }
func SegmentID(id string) Field    { return String("segment_id", id) }
func Source(name string) Field     { return String("source", name) }

// Codec names the compression applied to a segment data block
func Codec(c fmt.Stringer) Field { return Stringer("codec", c) }

// Latency reports d in fractional milliseconds
func Latency(d time.Duration) Field {
	return Float64("latency_ms", float64(d)/float64(time.Millisecond))
}
