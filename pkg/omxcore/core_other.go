//go:build !((darwin || linux) && (amd64 || arm64))

package omxcore

import "github.com/krisarmstrong/omxconf/pkg/omx"

// Core is unavailable on this platform; Open always fails.
type Core struct{}

func Open(string) (*Core, error) { return nil, ErrUnsupported }

func (*Core) Path() string                         { return "" }
func (*Core) Init() error                          { return ErrUnsupported }
func (*Core) Deinit() error                        { return ErrUnsupported }
func (*Core) Close() error                         { return nil }
func (*Core) ComponentNames() ([]string, error)    { return nil, ErrUnsupported }
func (*Core) FreeHandle(omx.Component) error       { return ErrUnsupported }
func (*Core) GetHandle(string, omx.Callbacks) (omx.Component, error) {
	return nil, ErrUnsupported
}
func (*Core) SetupTunnel(omx.Component, uint32, omx.Component, uint32) error {
	return ErrUnsupported
}
