package bikeserial

import "errors"

var (
	ErrPortNotOpen    = errors.New("bikeserial: port not open")
	ErrReadTimeout    = errors.New("bikeserial: read timeout")
	ErrInvalidSession = errors.New("bikeserial: invalid session")
)

var (
	ErrMsgNilPort = "port is nil"
)
