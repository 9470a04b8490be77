// Livesink - Live-Stream Telemetry Ingestor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/livesink

// Package wire implements the push-channel frame codec. The channel speaks
// protocol buffers: an outer PushFrame wrapping a gzip-compressed Response,
// which carries a batch of method-tagged inner messages. The codec is
// hand-rolled on protowire so unknown fields are skipped, not rejected —
// the platform adds fields without notice.
package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"google.golang.org/protobuf/encoding/protowire"
)

// Payload types of the outer frame.
const (
	PayloadHeartbeat = "hb"
	PayloadAck       = "ack"
)

// PushFrame is the outer wrapper on the wire.
type PushFrame struct {
	LogID       uint64
	PayloadType string
	Payload     []byte
}

// Response is the decompressed frame payload: a message batch plus the ack
// bookkeeping the server expects echoed back.
type Response struct {
	Messages    []Message
	InternalExt string
	NeedAck     bool
}

// Message is one method-tagged inner event.
type Message struct {
	Method  string
	Payload []byte
}

// PushFrame field numbers.
const (
	frameLogID       = 2
	framePayloadType = 7
	framePayload     = 8
)

// Response field numbers.
const (
	respMessages    = 1
	respInternalExt = 5
	respNeedAck     = 9
)

// Message field numbers.
const (
	msgMethod  = 1
	msgPayload = 2
)

// walkFields iterates the top-level fields of a serialized message, handing
// each raw field value to fn. Unknown fields are fn's business to ignore.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, value []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		size := protowire.ConsumeFieldValue(num, typ, b)
		if size < 0 {
			return protowire.ParseError(size)
		}
		if err := fn(num, typ, b[:size]); err != nil {
			return err
		}
		b = b[size:]
	}
	return nil
}

func fieldVarint(value []byte) (uint64, error) {
	v, n := protowire.ConsumeVarint(value)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return v, nil
}

func fieldBytes(value []byte) ([]byte, error) {
	v, n := protowire.ConsumeBytes(value)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	return v, nil
}

func fieldString(value []byte) (string, error) {
	v, err := fieldBytes(value)
	return string(v), err
}

// DecodePushFrame parses one outer frame.
func DecodePushFrame(b []byte) (*PushFrame, error) {
	f := &PushFrame{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		var err error
		switch {
		case num == frameLogID && typ == protowire.VarintType:
			f.LogID, err = fieldVarint(value)
		case num == framePayloadType && typ == protowire.BytesType:
			f.PayloadType, err = fieldString(value)
		case num == framePayload && typ == protowire.BytesType:
			var v []byte
			if v, err = fieldBytes(value); err == nil {
				f.Payload = append([]byte(nil), v...)
			}
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("decode push frame: %w", err)
	}
	return f, nil
}

// EncodePushFrame serializes one outer frame. Zero-valued fields are
// omitted, matching proto3 presence rules.
func EncodePushFrame(f *PushFrame) []byte {
	var b []byte
	if f.LogID != 0 {
		b = protowire.AppendTag(b, frameLogID, protowire.VarintType)
		b = protowire.AppendVarint(b, f.LogID)
	}
	if f.PayloadType != "" {
		b = protowire.AppendTag(b, framePayloadType, protowire.BytesType)
		b = protowire.AppendString(b, f.PayloadType)
	}
	if len(f.Payload) > 0 {
		b = protowire.AppendTag(b, framePayload, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Payload)
	}
	return b
}

// HeartbeatFrame builds the periodic keepalive frame.
func HeartbeatFrame() []byte {
	return EncodePushFrame(&PushFrame{PayloadType: PayloadHeartbeat})
}

// AckFrame builds the acknowledgment for a frame that requested one,
// echoing its correlation id and the decoder's internal-ext bytes.
func AckFrame(logID uint64, internalExt string) []byte {
	return EncodePushFrame(&PushFrame{
		LogID:       logID,
		PayloadType: PayloadAck,
		Payload:     []byte(internalExt),
	})
}

// DecodeResponse parses an already-decompressed response payload.
func DecodeResponse(b []byte) (*Response, error) {
	r := &Response{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		switch {
		case num == respMessages && typ == protowire.BytesType:
			raw, err := fieldBytes(value)
			if err != nil {
				return err
			}
			msg, err := decodeMessage(raw)
			if err != nil {
				return err
			}
			r.Messages = append(r.Messages, msg)
		case num == respInternalExt && typ == protowire.BytesType:
			v, err := fieldString(value)
			if err != nil {
				return err
			}
			r.InternalExt = v
		case num == respNeedAck && typ == protowire.VarintType:
			v, err := fieldVarint(value)
			if err != nil {
				return err
			}
			r.NeedAck = v != 0
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return r, nil
}

// DecodeCompressedResponse gunzips a frame payload and parses the response.
func DecodeCompressedResponse(payload []byte) (*Response, error) {
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("open response payload: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress response payload: %w", err)
	}
	return DecodeResponse(raw)
}

func decodeMessage(b []byte) (Message, error) {
	var m Message
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		var err error
		switch {
		case num == msgMethod && typ == protowire.BytesType:
			m.Method, err = fieldString(value)
		case num == msgPayload && typ == protowire.BytesType:
			var v []byte
			if v, err = fieldBytes(value); err == nil {
				m.Payload = append([]byte(nil), v...)
			}
		}
		return err
	})
	return m, err
}
