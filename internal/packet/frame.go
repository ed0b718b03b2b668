package packet

import (
	"encoding/binary"
	"fmt"
)

// SocketCAN identifier bits (linux/can.h).
const (
	CANEFFFlag uint32 = 0x80000000
	CANRTRFlag uint32 = 0x40000000
	CANErrFlag uint32 = 0x20000000

	CANSFFMask uint32 = 0x000007FF
	CANEFFMask uint32 = 0x1FFFFFFF
)

// Frame is the decoded form of a can_frame or canfd_frame.
type Frame struct {
	// ID is can_id including the EFF/RTR/ERR flag bits.
	ID    uint32
	Len   uint8
	Flags uint8
	Data  [64]byte
}

// Extended reports whether the frame uses a 29-bit identifier.
func (f Frame) Extended() bool { return f.ID&CANEFFFlag != 0 }

// Identifier returns the 11 or 29 bit identifier without flag bits.
func (f Frame) Identifier() uint32 {
	if f.Extended() {
		return f.ID & CANEFFMask
	}
	return f.ID & CANSFFMask
}

// Payload returns the valid data bytes.
func (f Frame) Payload() []byte {
	n := int(f.Len)
	if n > len(f.Data) {
		n = len(f.Data)
	}
	return f.Data[:n]
}

// Marshal lays the frame out the way the kernel does: can_id in host order,
// then len, flags (canfd) or pad (classic), two reserved bytes and the data.
// fd selects the 72 byte canfd_frame over the 16 byte can_frame.
func (f Frame) Marshal(fd bool) []byte {
	size, dataLen := CANFrameSize, 8
	if fd {
		size, dataLen = CANFDFrameSize, 64
	}
	buf := make([]byte, size)
	binary.NativeEndian.PutUint32(buf[0:4], f.ID)
	buf[4] = f.Len
	if fd {
		buf[5] = f.Flags
	}
	copy(buf[8:8+dataLen], f.Data[:dataLen])
	return buf
}

// ParseFrame decodes a raw can_frame or canfd_frame. Inputs shorter than a
// can_frame are rejected; anything of at least CANFDFrameSize bytes is treated
// as canfd.
func ParseFrame(raw []byte) (Frame, error) {
	if len(raw) < CANFrameSize {
		return Frame{}, fmt.Errorf("%w: %d byte frame", ErrMalformed, len(raw))
	}
	var f Frame
	f.ID = binary.NativeEndian.Uint32(raw[0:4])
	f.Len = raw[4]
	dataLen := 8
	if len(raw) >= CANFDFrameSize {
		f.Flags = raw[5]
		dataLen = 64
	}
	copy(f.Data[:], raw[8:8+dataLen])
	return f, nil
}

func (f Frame) String() string {
	if f.Extended() {
		return fmt.Sprintf("%08X#%X", f.Identifier(), f.Payload())
	}
	return fmt.Sprintf("%03X#%X", f.Identifier(), f.Payload())
}
