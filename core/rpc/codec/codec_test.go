package codec

import (
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestJSONCodec(t *testing.T) {
	codec := &JSONCodec{}

	// Test encode/decode
	type TestStruct struct {
		Name  string
		Value int
	}

	original := &TestStruct{Name: "test", Value: 42}

	// Encode
	data, err := codec.Encode(original)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	// Decode
	decoded := &TestStruct{}
	if err := codec.Decode(data, decoded); err != nil {
		t.Fatalf("Decode error: %v", err)
	}

	// Verify
	if decoded.Name != original.Name || decoded.Value != original.Value {
		t.Errorf("Mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMsgPackCodec(t *testing.T) {
	codec := &MsgPackCodec{}

	type TestStruct struct {
		Name  string
		Value int
	}

	original := &TestStruct{Name: "test", Value: 42}

	data, err := codec.Encode(original)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	decoded := &TestStruct{}
	if err := codec.Decode(data, decoded); err != nil {
		t.Fatalf("Decode error: %v", err)
	}

	if decoded.Name != original.Name || decoded.Value != original.Value {
		t.Errorf("Mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestProtobufCodec(t *testing.T) {
	codec := &ProtobufCodec{}

	// Create test message
	original := wrapperspb.Int32(42)

	// Encode
	data, err := codec.Encode(original)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	// Decode
	decoded := &wrapperspb.Int32Value{}
	if err := codec.Decode(data, decoded); err != nil {
		t.Fatalf("Decode error: %v", err)
	}

	// Verify
	if decoded.Value != original.Value {
		t.Errorf("Mismatch: got %d, want %d", decoded.Value, original.Value)
	}
}

func TestProtobufCodecInvalidType(t *testing.T) {
	codec := &ProtobufCodec{}

	// Try to encode non-proto message
	_, err := codec.Encode("not a proto message")
	if err == nil {
		t.Error("Expected error for non-proto message")
	}
}

func TestLookup(t *testing.T) {
	for _, typ := range []CodecType{CodecJSON, CodecMsgPack, CodecProtobuf} {
		c, err := GetCodec(typ)
		if err != nil {
			t.Fatalf("GetCodec(%#x) error: %v", typ, err)
		}
		if c.Type() != typ {
			t.Errorf("GetCodec(%#x) returned codec of type %#x", typ, c.Type())
		}

		byName, err := ByName(c.Name())
		if err != nil {
			t.Fatalf("ByName(%q) error: %v", c.Name(), err)
		}
		if byName.Type() != typ {
			t.Errorf("ByName(%q) returned codec of type %#x", c.Name(), byName.Type())
		}
	}

	// Empty name defaults to JSON
	c, err := ByName("")
	if err != nil {
		t.Fatalf("ByName(\"\") error: %v", err)
	}
	if c.Type() != CodecJSON {
		t.Errorf("ByName(\"\") = %s, want json", c.Name())
	}

	if _, err := GetCodec(0xFF); err != ErrUnsupportedCodec {
		t.Errorf("GetCodec(0xFF) error = %v, want ErrUnsupportedCodec", err)
	}
	if _, err := ByName("xml"); err != ErrUnsupportedCodec {
		t.Errorf("ByName(\"xml\") error = %v, want ErrUnsupportedCodec", err)
	}
}

func BenchmarkJSONEncode(b *testing.B) {
	codec := &JSONCodec{}
	data := map[string]interface{}{
		"name":  "benchmark",
		"value": 123,
		"items": []int{1, 2, 3, 4, 5},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = codec.Encode(data)
	}
}

func BenchmarkJSONDecode(b *testing.B) {
	codec := &JSONCodec{}
	data := map[string]interface{}{
		"name":  "benchmark",
		"value": 123,
	}
	encoded, _ := codec.Encode(data)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var decoded map[string]interface{}
		_ = codec.Decode(encoded, &decoded)
	}
}

func BenchmarkMsgPackEncode(b *testing.B) {
	codec := &MsgPackCodec{}
	data := map[string]interface{}{
		"name":  "benchmark",
		"value": 123,
		"items": []int{1, 2, 3, 4, 5},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = codec.Encode(data)
	}
}

func BenchmarkProtobufEncode(b *testing.B) {
	codec := &ProtobufCodec{}
	msg := wrapperspb.String("benchmark message with some data")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = codec.Encode(msg)
	}
}

func BenchmarkProtobufDecode(b *testing.B) {
	codec := &ProtobufCodec{}
	msg := wrapperspb.String("benchmark message")
	data, _ := proto.Marshal(msg)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		decoded := &wrapperspb.StringValue{}
		_ = codec.Decode(data, decoded)
	}
}
