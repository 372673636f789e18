package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/Anniext/hdsm/pkg/btpm"
)

// AddressSize 线上地址字节数
const AddressSize = 6

// Encode 将定长结构体与可选的变长尾部编码为载荷
func Encode(body any, trailing []byte) ([]byte, error) {
	size := binary.Size(body)
	if size < 0 {
		return nil, btpm.NewPlatformError(btpm.ErrCodeMessageInvalid,
			fmt.Sprintf("类型 %T 不是定长结构", body))
	}

	buf := bytes.NewBuffer(make([]byte, 0, size+len(trailing)))
	if err := binary.Write(buf, binary.LittleEndian, body); err != nil {
		return nil, btpm.WrapError(err, btpm.ErrCodeMessageInvalid, "载荷编码失败", "encode")
	}
	buf.Write(trailing)
	return buf.Bytes(), nil
}

// Decode 校验最小长度后解码定长部分，返回其后的尾部字节
func Decode(payload []byte, body any) ([]byte, error) {
	size := binary.Size(body)
	if size < 0 {
		return nil, btpm.NewPlatformError(btpm.ErrCodeMessageInvalid,
			fmt.Sprintf("类型 %T 不是定长结构", body))
	}
	if len(payload) < size {
		return nil, btpm.NewPlatformError(btpm.ErrCodeMessageInvalid,
			fmt.Sprintf("载荷长度 %d 小于最小长度 %d", len(payload), size))
	}
	if err := binary.Read(bytes.NewReader(payload[:size]), binary.LittleEndian, body); err != nil {
		return nil, btpm.WrapError(err, btpm.ErrCodeMessageInvalid, "载荷解码失败", "decode")
	}
	return payload[size:], nil
}

// NewRequest 构造发往服务端的请求消息
func NewRequest(addressID, messageID, function uint32, body any, trailing []byte) (*btpm.Message, error) {
	payload, err := Encode(body, trailing)
	if err != nil {
		return nil, err
	}
	return btpm.NewMessage(addressID, messageID, GroupHeadsetManager, function, payload), nil
}

// NewResponse 构造请求的响应消息
func NewResponse(req *btpm.Message, body any, trailing []byte) (*btpm.Message, error) {
	payload, err := Encode(body, trailing)
	if err != nil {
		return nil, err
	}
	return btpm.NewResponseMessage(req, payload), nil
}

// NewNotification 构造服务端通知消息
func NewNotification(addressID, function uint32, body any, trailing []byte) (*btpm.Message, error) {
	payload, err := Encode(body, trailing)
	if err != nil {
		return nil, err
	}
	return btpm.NewMessage(addressID, 0, GroupHeadsetManager, function, payload), nil
}

// DecodeConnectedDevices 解码已连接设备列表，校验长度覆盖全部地址
func DecodeConnectedDevices(payload []byte) (QueryConnectedDevicesResponse, []Address, error) {
	var resp QueryConnectedDevicesResponse
	rest, err := Decode(payload, &resp)
	if err != nil {
		return resp, nil, err
	}
	if resp.Status != 0 {
		return resp, nil, nil
	}

	need := int(resp.NumberDevicesConnected) * AddressSize
	if resp.NumberDevicesConnected > uint32(btpm.MaximumMessageLength/AddressSize) || len(rest) < need {
		return resp, nil, btpm.NewPlatformError(btpm.ErrCodeMessageInvalid,
			fmt.Sprintf("设备列表长度 %d 不足 %d 个地址", len(rest), resp.NumberDevicesConnected))
	}

	addrs := make([]Address, resp.NumberDevicesConnected)
	for i := range addrs {
		copy(addrs[i][:], rest[i*AddressSize:])
	}
	return resp, addrs, nil
}

// DecodeAudioData 解码音频数据通知，数据长度必须非零且不超出载荷
func DecodeAudioData(payload []byte) (AudioDataReceivedNotification, []byte, error) {
	var n AudioDataReceivedNotification
	rest, err := Decode(payload, &n)
	if err != nil {
		return n, nil, err
	}
	if n.AudioDataLength == 0 || uint32(len(rest)) < n.AudioDataLength {
		return n, nil, btpm.NewPlatformError(btpm.ErrCodeMessageInvalid,
			fmt.Sprintf("音频数据长度 %d 与载荷 %d 不符", n.AudioDataLength, len(rest)))
	}
	return n, rest[:n.AudioDataLength], nil
}

// EncodeAddresses 将地址列表编码为连续字节
func EncodeAddresses(addrs []Address) []byte {
	out := make([]byte, 0, len(addrs)*AddressSize)
	for _, a := range addrs {
		out = append(out, a[:]...)
	}
	return out
}
