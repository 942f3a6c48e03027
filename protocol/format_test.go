package protocol

import (
	"bytes"
	"testing"
)

func TestParseFormat(t *testing.T) {
	mf, err := ParseFormat(7, "spi_send oid=%c data=%*s")
	if err != nil {
		t.Fatalf("ParseFormat failed: %v", err)
	}
	if mf.Name != "spi_send" || mf.ID != 7 {
		t.Errorf("got %s/%d", mf.Name, mf.ID)
	}
	if len(mf.Params) != 2 {
		t.Fatalf("got %d params", len(mf.Params))
	}
	if mf.Params[0] != (Param{"oid", ParamUint}) || mf.Params[1] != (Param{"data", ParamBuffer}) {
		t.Errorf("params = %+v", mf.Params)
	}
	if s := mf.String(); s != "spi_send oid=%u data=%*s" {
		t.Errorf("String() = %q", s)
	}
}

func TestParseFormatNoParams(t *testing.T) {
	mf, err := ParseFormat(3, "allocate_oids count=%c")
	if err != nil {
		t.Fatal(err)
	}
	if len(mf.Params) != 1 {
		t.Errorf("params = %+v", mf.Params)
	}

	mf, err = ParseFormat(4, "get_config")
	if err != nil {
		t.Fatal(err)
	}
	if len(mf.Params) != 0 {
		t.Errorf("params = %+v", mf.Params)
	}
}

func TestParseFormatErrors(t *testing.T) {
	for _, f := range []string{"", "cmd oid", "cmd oid=%q", "cmd =%u"} {
		if _, err := ParseFormat(1, f); err == nil {
			t.Errorf("ParseFormat(%q) succeeded", f)
		}
	}
}

func TestFormatEncode(t *testing.T) {
	mf, _ := ParseFormat(7, "spi_send oid=%c data=%*s")
	payload, err := mf.Encode(0, []byte{0x34, 0xab, 0xcd})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.Equal(payload, []byte{0x07, 0x00, 0x03, 0x34, 0xab, 0xcd}) {
		t.Errorf("payload = % x", payload)
	}

	if _, err := mf.Encode(0); err == nil {
		t.Error("missing argument accepted")
	}
	if _, err := mf.Encode("x", []byte{}); err == nil {
		t.Error("string accepted for integer parameter")
	}
	if _, err := mf.Encode(0, 5); err == nil {
		t.Error("integer accepted for buffer parameter")
	}
}

func TestFormatDecode(t *testing.T) {
	mf, _ := ParseFormat(0, "config is_config=%c crc=%u is_shutdown=%c move_count=%hu")
	payload, err := mf.Encode(true, uint32(0xDEADBEEF), false, 16)
	if err != nil {
		t.Fatal(err)
	}

	data := payload
	if id, _ := DecodeVLQUint(&data); id != 0 {
		t.Fatalf("id = %d", id)
	}
	params, err := mf.Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if params["is_config"] != uint32(1) {
		t.Errorf("is_config = %v", params["is_config"])
	}
	if params["crc"] != uint32(0xDEADBEEF) {
		t.Errorf("crc = %v", params["crc"])
	}
	if params["move_count"] != uint32(16) {
		t.Errorf("move_count = %v", params["move_count"])
	}
}

func TestFormatDecodeTypes(t *testing.T) {
	mf, _ := ParseFormat(9, "shutdown clock=%u static_string_id=%hu msg=%s pos=%i buf=%.*s")
	payload, err := mf.Encode(1, 2, "oops", -5, []byte{1, 2})
	if err != nil {
		t.Fatal(err)
	}
	data := payload[1:]
	params, err := mf.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if params["msg"] != "oops" {
		t.Errorf("msg = %#v", params["msg"])
	}
	if params["pos"] != int32(-5) {
		t.Errorf("pos = %#v", params["pos"])
	}
	if !bytes.Equal(params["buf"].([]byte), []byte{1, 2}) {
		t.Errorf("buf = %#v", params["buf"])
	}

	if _, err := mf.Decode(data[:3]); err == nil {
		t.Error("truncated payload decoded")
	}
}
