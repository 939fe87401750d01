// Package omxcore loads a native OpenMAX IL core library (libOmxCore.so,
// Bellagio, Broadcom's libopenmaxil) at run time and exposes it through the
// omx.Core and omx.Component interfaces. No cgo is involved: symbols are
// bound with purego and the component vtable is called through raw
// function pointers.
package omxcore

import (
	"errors"
	"os"
	"runtime"
)

// EnvLibrary overrides the library search when no explicit path is given.
const EnvLibrary = "OMXCONF_CORE_LIBRARY"

// ErrUnsupported is returned on platforms the loader is not built for.
var ErrUnsupported = errors.New("omxcore: native IL cores are not supported on this platform")

var coreSymbols = []string{
	"OMX_Init",
	"OMX_Deinit",
	"OMX_ComponentNameEnum",
	"OMX_GetHandle",
	"OMX_FreeHandle",
	"OMX_SetupTunnel",
}

// libraryPaths lists the candidates tried by Open, most specific first.
func libraryPaths(path string) []string {
	if path != "" {
		return []string{path}
	}

	var paths []string
	if env := os.Getenv(EnvLibrary); env != "" {
		paths = append(paths, env)
	}

	switch runtime.GOOS {
	case "darwin":
		paths = append(paths,
			"libOmxCore.dylib",
			"/usr/local/lib/libOmxCore.dylib",
		)
	default:
		paths = append(paths,
			"libOmxCore.so",
			"libomxil-bellagio.so.0",
			"/opt/vc/lib/libopenmaxil.so",
			"/usr/local/lib/libOmxCore.so",
			"/usr/lib/libOmxCore.so",
		)
	}
	return paths
}
