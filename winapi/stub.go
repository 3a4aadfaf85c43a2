//go:build !windows

package winapi

import "github.com/m-lab/estats-collector/endpoint"

// unsupportedSystem does nothing, but is needed so the module still builds
// on non-Windows platforms.
type unsupportedSystem struct{}

// New returns a System that always reports ErrUnsupportedPlatform. The real
// implementation (windows.go) only builds with GOOS=windows, since the
// ESTATS surface is a Windows-only IP Helper API.
func New() System {
	return unsupportedSystem{}
}

func (unsupportedSystem) TCPTable(endpoint.Family) ([]Row, error) {
	return nil, ErrUnsupportedPlatform
}

func (unsupportedSystem) SetEnable(Row, EstatsType, bool, bool) error {
	return ErrUnsupportedPlatform
}

func (unsupportedSystem) GetDynamic(Row, EstatsType) (Enable, []uint64, error) {
	return Enable{}, nil, ErrUnsupportedPlatform
}

func (unsupportedSystem) GetStatic(Row, EstatsType) ([]uint64, error) {
	return nil, ErrUnsupportedPlatform
}
