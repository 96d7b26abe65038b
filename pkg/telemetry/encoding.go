package telemetry

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang/protobuf/proto"
	structpb "github.com/golang/protobuf/ptypes/struct"

	"github.com/robotalks/canlink.go/pkg/can"
	"github.com/robotalks/canlink.go/pkg/status"
)

// Sample is one received message as published.
type Sample struct {
	Node   string       `cbor:"1,keyasint"`
	Source can.DeviceID `cbor:"2,keyasint"`
	MsgID  can.MsgID    `cbor:"3,keyasint"`
	Data   []byte       `cbor:"4,keyasint"`
	// Time is in milliseconds since the Unix epoch.
	Time int64 `cbor:"5,keyasint"`
}

// NewSample captures msg received at t.
func NewSample(node string, msg *can.Message, t time.Time) *Sample {
	return &Sample{
		Node:   node,
		Source: msg.Source,
		MsgID:  msg.MsgID,
		Data:   append([]byte(nil), msg.Payload()...),
		Time:   t.UnixMilli(),
	}
}

// Encoder serializes samples.
type Encoder interface {
	Encode(*Sample) ([]byte, error)
	Decode([]byte) (*Sample, error)
}

// NewEncoder returns the encoder by name: "proto" or "cbor".
func NewEncoder(name string) (Encoder, error) {
	switch name {
	case "proto":
		return ProtoEncoder{}, nil
	case "cbor":
		return CBOREncoder{}, nil
	}
	return nil, status.Codef(status.InvalidArgs, "telemetry: unknown encoding %q", name)
}

// ProtoEncoder encodes a sample as a google.protobuf.Struct.
type ProtoEncoder struct{}

func numberValue(v float64) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_NumberValue{NumberValue: v}}
}

// Encode implements Encoder.
func (ProtoEncoder) Encode(s *Sample) ([]byte, error) {
	data := make([]*structpb.Value, len(s.Data))
	for i, b := range s.Data {
		data[i] = numberValue(float64(b))
	}
	msg := &structpb.Struct{Fields: map[string]*structpb.Value{
		"node":   {Kind: &structpb.Value_StringValue{StringValue: s.Node}},
		"source": numberValue(float64(s.Source)),
		"msg_id": numberValue(float64(s.MsgID)),
		"data":   {Kind: &structpb.Value_ListValue{ListValue: &structpb.ListValue{Values: data}}},
		"time":   numberValue(float64(s.Time)),
	}}
	return proto.Marshal(msg)
}

// Decode implements Encoder.
func (ProtoEncoder) Decode(b []byte) (*Sample, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(b, &msg); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	s := &Sample{
		Node:   msg.Fields["node"].GetStringValue(),
		Source: can.DeviceID(msg.Fields["source"].GetNumberValue()),
		MsgID:  can.MsgID(msg.Fields["msg_id"].GetNumberValue()),
		Time:   int64(msg.Fields["time"].GetNumberValue()),
	}
	for _, v := range msg.Fields["data"].GetListValue().GetValues() {
		s.Data = append(s.Data, byte(v.GetNumberValue()))
	}
	return s, nil
}

// CBOREncoder encodes a sample as a CBOR map with integer keys.
type CBOREncoder struct{}

// Encode implements Encoder.
func (CBOREncoder) Encode(s *Sample) ([]byte, error) {
	return cbor.Marshal(s)
}

// Decode implements Encoder.
func (CBOREncoder) Decode(b []byte) (*Sample, error) {
	var s Sample
	if err := cbor.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	return &s, nil
}
