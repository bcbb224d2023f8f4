package codec

import (
	"github.com/vmihailenco/msgpack/v5"
)

// MsgPackCodec encodes values as MessagePack. Binary subscribers pick
// it for compact notification frames.
type MsgPackCodec struct{}

func (c *MsgPackCodec) Encode(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (c *MsgPackCodec) Decode(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

func (c *MsgPackCodec) Name() string {
	return "msgpack"
}

func (c *MsgPackCodec) Type() CodecType {
	return CodecMsgPack
}
