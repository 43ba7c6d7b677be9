package transport

import (
	"encoding/binary"
	"errors"
)

// 帧头 LenFlags：
// 短头（2B，BE）：
//   bit15: Compressed
//   bit14: 保留，必须为 0
//   bit13: Ext=0 (短头)
//   bit12..0: Len13 (0..8191)
// 长头（4B，BE）：
//   bit31: Compressed
//   bit30: 保留
//   bit29: Ext=1 (长头)
//   bit28..0: Len29 (0..(1<<29)-1)

const (
	shortHeadMaxLen = (1 << 13) - 1 // 8191
	longHeadMaxLen  = (1 << 29) - 1

	maxHeaderLen = 4
)

var (
	errHeaderTooShort   = errors.New("transport: header too short")
	errLengthOutOfRange = errors.New("transport: length out of range")
	errReservedBit      = errors.New("transport: reserved header bit set")
)

// EncodeLenFlags 将头部写入 dst，返回写入字节数（2 或 4）。
func EncodeLenFlags(dst []byte, length int, compressed bool) (int, error) {
	if length < 0 || length > longHeadMaxLen {
		return 0, errLengthOutOfRange
	}
	if length <= shortHeadMaxLen {
		if len(dst) < 2 {
			return 0, errHeaderTooShort
		}
		v := uint16(length) & 0x1FFF
		if compressed {
			v |= 1 << 15
		}
		binary.BigEndian.PutUint16(dst, v)
		return 2, nil
	}
	if len(dst) < 4 {
		return 0, errHeaderTooShort
	}
	var v uint32 = 1 << 29 // Ext=1
	if compressed {
		v |= 1 << 31
	}
	v |= uint32(length) & 0x1FFFFFFF
	binary.BigEndian.PutUint32(dst, v)
	return 4, nil
}

// HeaderLen 根据前两个字节判断头部总长度。
func HeaderLen(b []byte) (int, error) {
	if len(b) < 2 {
		return 0, errHeaderTooShort
	}
	if (b[0]>>5)&0x1 == 1 {
		return 4, nil
	}
	return 2, nil
}

// DecodeLenFlags 解码头部，返回：已消费字节数、长度、compressed。
func DecodeLenFlags(b []byte) (consumed int, length int, compressed bool, _ error) {
	if len(b) < 2 {
		return 0, 0, false, errHeaderTooShort
	}
	v16 := binary.BigEndian.Uint16(b[:2])
	if (v16>>14)&0x1 == 1 {
		return 0, 0, false, errReservedBit
	}
	ext := (v16>>13)&0x1 == 1
	if !ext {
		compressed = (v16>>15)&0x1 == 1
		return 2, int(v16 & 0x1FFF), compressed, nil
	}
	if len(b) < 4 {
		return 0, 0, false, errHeaderTooShort
	}
	v32 := binary.BigEndian.Uint32(b[:4])
	compressed = (v32>>31)&0x1 == 1
	return 4, int(v32 & 0x1FFFFFFF), compressed, nil
}
