package ipc

import "time"

const (
	maxBodyBytesSmall int64 = 64 << 10

	maxWSReadBytes = 64 << 10

	wsPingInterval = 20 * time.Second
	wsPingTimeout  = 5 * time.Second
)
