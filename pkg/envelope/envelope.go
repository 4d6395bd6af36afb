// Package envelope implements the request/response message exchanged between
// the netstat client and server, together with its length-prefixed wire
// format.
//
// A frame on the wire is a 4-byte big-endian body length followed by the
// body:
//
//	kind          u8
//	message       u16 length + UTF-8
//	ipAddress     u16 length + UTF-8
//	port          u32
//	bytesReceived u32
//	bytesSent     u32
//	protocolType  u16 length + UTF-8
//
// All integers are big-endian.
package envelope

import "fmt"

// RequestKind identifies the operation an envelope carries.
type RequestKind uint8

const (
	// KindInvalid is the reserved zero tag. It never appears on the wire.
	KindInvalid RequestKind = 0

	// FetchTcpStats asks the server for a statistics snapshot.
	FetchTcpStats RequestKind = 1
)

var kindNames = map[RequestKind]string{
	FetchTcpStats: "FetchTcpStats",
}

func (k RequestKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("RequestKind(%d)", uint8(k))
}

// Known reports whether k is a kind the codec accepts.
func (k RequestKind) Known() bool {
	_, ok := kindNames[k]
	return ok
}

// Envelope is the single message type used in both directions. A request
// normally sets only Kind; the server fills in the remaining fields.
type Envelope struct {
	Kind          RequestKind `json:"kind"`
	Message       string      `json:"message"`
	IPAddress     string      `json:"ip_address"`
	Port          uint16      `json:"port"`
	BytesReceived uint32      `json:"bytes_received"`
	BytesSent     uint32      `json:"bytes_sent"`
	ProtocolType  string      `json:"protocol_type"`
}

// NewRequest returns a request envelope for kind.
func NewRequest(kind RequestKind) Envelope {
	return Envelope{Kind: kind}
}
