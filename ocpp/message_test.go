package ocpp

import (
	"errors"
	"testing"
	"time"

	"evcsms/ocpp/core"
	"evcsms/types"
)

func TestDecodeCall(t *testing.T) {
	envelope, err := Decode([]byte(`[2, "19223201", "BootNotification", {"chargePointVendor": "Acme", "chargePointModel": "X1"}]`))
	if err != nil {
		t.Fatal(err)
	}
	call, ok := envelope.(*Call)
	if !ok {
		t.Fatalf("decoded %T", envelope)
	}
	if call.UniqueId != "19223201" || call.Action != "BootNotification" {
		t.Errorf("call %+v", call)
	}

	request, err := ParseRequest(types.SubProtocol16, call.Action, call.Payload)
	if err != nil {
		t.Fatal(err)
	}
	boot, ok := request.(*core.BootNotificationRequest)
	if !ok || boot.ChargePointVendor != "Acme" {
		t.Errorf("request %+v", request)
	}
}

func TestDecodeCallError(t *testing.T) {
	envelope, err := Decode([]byte(`[4,"42","NotSupported","no reset here",{}]`))
	if err != nil {
		t.Fatal(err)
	}
	callError, ok := envelope.(*CallError)
	if !ok || callError.ErrorCode != "NotSupported" || callError.ErrorDescription != "no reset here" {
		t.Errorf("decoded %+v", envelope)
	}
}

func TestDecodeMalformed(t *testing.T) {
	frames := map[string]string{
		"not json":          `[2,"1","Heartbeat"`,
		"object":            `{"id":"1"}`,
		"short":             `[2,"1"]`,
		"fractional type":   `[2.5,"1","Heartbeat",{}]`,
		"unknown type":      `[7,"1","Heartbeat",{}]`,
		"numeric id":        `[2,1,"Heartbeat",{}]`,
		"empty id":          `[2,"","Heartbeat",{}]`,
		"empty action":      `[2,"1","",{}]`,
		"array payload":     `[2,"1","Heartbeat",[]]`,
		"call extra":        `[2,"1","Heartbeat",{},{}]`,
		"result two fields": `[3,"1"]`,
		"result string":     `[3,"1","ok"]`,
		"error short":       `[4,"1","GenericError",{}]`,
		"error no code":     `[4,"1","","desc",{}]`,
		"error details":     `[4,"1","GenericError","desc",null]`,
	}
	for name, frame := range frames {
		if _, err := Decode([]byte(frame)); !errors.Is(err, ErrMalformedEnvelope) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	result, err := NewCallResult("abc", core.NewHeartbeatResponse(types.NewDateTime(time.Now())))
	if err != nil {
		t.Fatal(err)
	}
	data, err := Encode(result)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	if decoded.GetMessageType() != CallTypeResult || decoded.GetUniqueId() != "abc" {
		t.Errorf("decoded %+v", decoded)
	}

	data, err = Encode(NewCallError("x", SecurityError, "boot first"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `[4,"x","SecurityError","boot first",{}]` {
		t.Errorf("encoded %s", data)
	}
}

func TestPeekUniqueId(t *testing.T) {
	if id := PeekUniqueId([]byte(`[2,"id-7",5]`)); id != "id-7" {
		t.Errorf("id %q", id)
	}
	if id := PeekUniqueId([]byte(`garbage`)); id != "" {
		t.Errorf("id %q", id)
	}
}

func TestIsKnownAction(t *testing.T) {
	if !IsKnownAction(types.SubProtocol201, "TransactionEvent") {
		t.Error("TransactionEvent unknown for 2.0.1")
	}
	if IsKnownAction(types.SubProtocol16, "TransactionEvent") {
		t.Error("TransactionEvent known for 1.6")
	}
	if _, err := ParseRequest(types.SubProtocol16, "Nope", nil); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("err = %v", err)
	}
}
