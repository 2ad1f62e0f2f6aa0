//go:build !linux

package transport

import "github.com/SampleEnvironment/frappy-go/errors"

func dialSerial(uri string) (Conn, error) {
	if _, err := parseSerialURI(uri); err != nil {
		return nil, err
	}
	return nil, errors.Config("serial transport is only supported on linux")
}
