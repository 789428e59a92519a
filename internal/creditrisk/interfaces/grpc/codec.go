package grpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName 内容子类型，客户端以 grpc.CallContentSubtype(CodecName) 调用
const CodecName = "json"

// jsonCodec 以 JSON 作为 gRPC 消息编码，请求与响应直接复用应用层 DTO
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
