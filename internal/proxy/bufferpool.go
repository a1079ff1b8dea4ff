package proxy

import "sync"

var (
	// tcpBufferPool reuses 32KB buffers for the TCP data plane.
	tcpBufferPool = sync.Pool{
		New: func() interface{} {
			buf := make([]byte, 32768)
			return &buf
		},
	}

	// udpBufferPool reuses buffers sized for the largest possible UDP
	// datagram.
	udpBufferPool = sync.Pool{
		New: func() interface{} {
			buf := make([]byte, 65507)
			return &buf
		},
	}
)

func getTCPBuffer() *[]byte { return tcpBufferPool.Get().(*[]byte) }
func putTCPBuffer(buf *[]byte) { tcpBufferPool.Put(buf) }

func getUDPBuffer() *[]byte { return udpBufferPool.Get().(*[]byte) }
func putUDPBuffer(buf *[]byte) { udpBufferPool.Put(buf) }
