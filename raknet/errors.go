package raknet

import "errors"

var errShortACK = errors.New("raknet: ack/nack body truncated")
