package main

import (
	"encoding/json"
	"testing"
)

func TestIsRelayType(t *testing.T) {
	for _, typ := range []string{TypeOffer, TypeAnswer, TypeICECandidate, TypeHandshakeVerify} {
		if !isRelayType(typ) {
			t.Fatalf("%s should be a relay type", typ)
		}
	}
	for _, typ := range []string{TypeConnected, TypeHandshakeInit, TypePeerJoined, TypeError, "bogus"} {
		if isRelayType(typ) {
			t.Fatalf("%s should not be a relay type", typ)
		}
	}
}

func TestConnectedMessageCarriesClientID(t *testing.T) {
	msg := connectedMessage("abc123")
	if msg.Type != TypeConnected || msg.ClientID != "abc123" {
		t.Fatalf("unexpected connected message: %+v", msg)
	}
}

func TestErrorMessagePayloadRoundTrips(t *testing.T) {
	msg := errorMessage("MISSING_ROOM_ID", "handshake-init requires room_id")
	var decoded struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(msg.Payload, &decoded); err != nil {
		t.Fatalf("payload should be valid JSON: %v", err)
	}
	if decoded.Code != "MISSING_ROOM_ID" {
		t.Fatalf("unexpected code: %+v", decoded)
	}
}

func TestMessageMarshalOmitsEmptyFields(t *testing.T) {
	b := mustMarshal(Message{Type: TypeRoomExpired, RoomID: "11-22"})
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := raw["from"]; ok {
		t.Fatalf("empty from should be omitted, got %v", raw)
	}
	if _, ok := raw["to"]; ok {
		t.Fatalf("empty to should be omitted, got %v", raw)
	}
	if raw["room_id"] != "11-22" {
		t.Fatalf("unexpected room_id: %v", raw["room_id"])
	}
}
