package transport

import (
	"net/url"
	"strconv"

	"github.com/SampleEnvironment/frappy-go/errors"
)

// serialSettings are the UART options of a serial:// URI.
type serialSettings struct {
	device   string
	baudrate int
	bytesize int
	parity   string // none, even, odd
	stopbits int
}

// parseSerialURI decodes serial://device?baudrate=9600&bytesize=8&
// parity=none&stopbits=1. Options default to 9600 8N1.
func parseSerialURI(uri string) (*serialSettings, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, errors.Config("invalid serial uri %q: %v", uri, err)
	}
	device := u.Path
	if u.Host != "" {
		// serial://COM3 style without a leading slash
		device = u.Host + u.Path
	}
	if device == "" {
		return nil, errors.Config("serial uri %q names no device", uri)
	}
	s := &serialSettings{
		device:   device,
		baudrate: 9600,
		bytesize: 8,
		parity:   "none",
		stopbits: 1,
	}
	for key, vals := range u.Query() {
		val := vals[len(vals)-1]
		switch key {
		case "baudrate":
			s.baudrate, err = strconv.Atoi(val)
		case "bytesize":
			s.bytesize, err = strconv.Atoi(val)
		case "parity":
			switch val {
			case "none", "even", "odd":
				s.parity = val
			default:
				return nil, errors.Config("serial uri %q: invalid parity %q", uri, val)
			}
		case "stopbits":
			s.stopbits, err = strconv.Atoi(val)
		case "timeout":
			// accepted for compatibility, timeouts are per call here
		default:
			return nil, errors.Config("serial uri %q: unknown option %q", uri, key)
		}
		if err != nil {
			return nil, errors.Config("serial uri %q: invalid value for %q", uri, key)
		}
	}
	return s, nil
}
