// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
	"time"
)

type sampleRecord struct {
	ID       string    `cbor:"id"`
	Position int64     `cbor:"position"`
	IssuedAt time.Time `cbor:"issued_at"`
}

type sampleArray struct {
	_       struct{} `cbor:",toarray"`
	Version uint
	ID      string
}

func TestMarshalDeterministic(t *testing.T) {
	record := sampleRecord{
		ID:       "gov-20260301-00000001",
		Position: 7,
		IssuedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	first, err := Marshal(record)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	second, err := Marshal(record)
	if err != nil {
		t.Fatalf("second Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("deterministic encoding violated: %x != %x", first, second)
	}

	var decoded sampleRecord
	if err := Unmarshal(first, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.ID != record.ID || decoded.Position != record.Position || !decoded.IssuedAt.Equal(record.IssuedAt) {
		t.Errorf("decoded %+v, want %+v", decoded, record)
	}
}

func TestToArrayKeepsFieldOrder(t *testing.T) {
	data, err := Marshal(sampleArray{Version: 1, ID: "a"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	// 0x82 = array(2), 0x01 = uint 1, 0x61 'a' = text(1) "a".
	want := []byte{0x82, 0x01, 0x61, 'a'}
	if !bytes.Equal(data, want) {
		t.Errorf("Marshal = %x, want %x", data, want)
	}
}

func TestEncoderDecoderStream(t *testing.T) {
	records := []sampleRecord{
		{ID: "a", Position: 0},
		{ID: "b", Position: 1},
	}

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, record := range records {
		if err := encoder.Encode(record); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i := range records {
		var decoded sampleRecord
		if err := decoder.Decode(&decoded); err != nil {
			t.Fatalf("Decode %d: %v", i, err)
		}
		if decoded.ID != records[i].ID {
			t.Errorf("record %d: ID = %q, want %q", i, decoded.ID, records[i].ID)
		}
	}
}

func TestUnmarshalAnyUsesStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"action": "verify"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	asMap, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if asMap["action"] != "verify" {
		t.Errorf("action = %v, want verify", asMap["action"])
	}
}
