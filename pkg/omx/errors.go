package omx

import (
	"errors"
	"fmt"
)

// Error mirrors OMX_ERRORTYPE. ErrorNone is never returned as an error value;
// components report success with a nil error.
type Error uint32

const (
	ErrorNone                          Error = 0
	ErrorInsufficientResources         Error = 0x80001000
	ErrorUndefined                     Error = 0x80001001
	ErrorInvalidComponentName          Error = 0x80001002
	ErrorComponentNotFound             Error = 0x80001003
	ErrorInvalidComponent              Error = 0x80001004
	ErrorBadParameter                  Error = 0x80001005
	ErrorNotImplemented                Error = 0x80001006
	ErrorUnderflow                     Error = 0x80001007
	ErrorOverflow                      Error = 0x80001008
	ErrorHardware                      Error = 0x80001009
	ErrorInvalidState                  Error = 0x8000100A
	ErrorStreamCorrupt                 Error = 0x8000100B
	ErrorPortsNotCompatible            Error = 0x8000100C
	ErrorResourcesLost                 Error = 0x8000100D
	ErrorNoMore                        Error = 0x8000100E
	ErrorVersionMismatch               Error = 0x8000100F
	ErrorNotReady                      Error = 0x80001010
	ErrorTimeout                       Error = 0x80001011
	ErrorSameState                     Error = 0x80001012
	ErrorResourcesPreempted            Error = 0x80001013
	ErrorPortUnresponsiveDuringAlloc   Error = 0x80001014
	ErrorPortUnresponsiveDuringDealloc Error = 0x80001015
	ErrorPortUnresponsiveDuringStop    Error = 0x80001016
	ErrorIncorrectStateTransition      Error = 0x80001017
	ErrorIncorrectStateOperation       Error = 0x80001018
	ErrorUnsupportedSetting            Error = 0x80001019
	ErrorUnsupportedIndex              Error = 0x8000101A
	ErrorBadPortIndex                  Error = 0x8000101B
	ErrorPortUnpopulated               Error = 0x8000101C
	ErrorComponentSuspended            Error = 0x8000101D
	ErrorDynamicResourcesUnavailable   Error = 0x8000101E
	ErrorMbErrorsInFrame               Error = 0x8000101F
	ErrorFormatNotDetected             Error = 0x80001020
	ErrorContentPipeOpenFailed         Error = 0x80001021
	ErrorContentPipeCreationFailed     Error = 0x80001022
	ErrorSeperateTablesUsed            Error = 0x80001023
	ErrorTunnelingUnsupported          Error = 0x80001024
)

var errorNames = map[Error]string{
	ErrorNone:                          "OMX_ErrorNone",
	ErrorInsufficientResources:         "OMX_ErrorInsufficientResources",
	ErrorUndefined:                     "OMX_ErrorUndefined",
	ErrorInvalidComponentName:          "OMX_ErrorInvalidComponentName",
	ErrorComponentNotFound:             "OMX_ErrorComponentNotFound",
	ErrorInvalidComponent:              "OMX_ErrorInvalidComponent",
	ErrorBadParameter:                  "OMX_ErrorBadParameter",
	ErrorNotImplemented:                "OMX_ErrorNotImplemented",
	ErrorUnderflow:                     "OMX_ErrorUnderflow",
	ErrorOverflow:                      "OMX_ErrorOverflow",
	ErrorHardware:                      "OMX_ErrorHardware",
	ErrorInvalidState:                  "OMX_ErrorInvalidState",
	ErrorStreamCorrupt:                 "OMX_ErrorStreamCorrupt",
	ErrorPortsNotCompatible:            "OMX_ErrorPortsNotCompatible",
	ErrorResourcesLost:                 "OMX_ErrorResourcesLost",
	ErrorNoMore:                        "OMX_ErrorNoMore",
	ErrorVersionMismatch:               "OMX_ErrorVersionMismatch",
	ErrorNotReady:                      "OMX_ErrorNotReady",
	ErrorTimeout:                       "OMX_ErrorTimeout",
	ErrorSameState:                     "OMX_ErrorSameState",
	ErrorResourcesPreempted:            "OMX_ErrorResourcesPreempted",
	ErrorPortUnresponsiveDuringAlloc:   "OMX_ErrorPortUnresponsiveDuringAllocation",
	ErrorPortUnresponsiveDuringDealloc: "OMX_ErrorPortUnresponsiveDuringDeallocation",
	ErrorPortUnresponsiveDuringStop:    "OMX_ErrorPortUnresponsiveDuringStop",
	ErrorIncorrectStateTransition:      "OMX_ErrorIncorrectStateTransition",
	ErrorIncorrectStateOperation:       "OMX_ErrorIncorrectStateOperation",
	ErrorUnsupportedSetting:            "OMX_ErrorUnsupportedSetting",
	ErrorUnsupportedIndex:              "OMX_ErrorUnsupportedIndex",
	ErrorBadPortIndex:                  "OMX_ErrorBadPortIndex",
	ErrorPortUnpopulated:               "OMX_ErrorPortUnpopulated",
	ErrorComponentSuspended:            "OMX_ErrorComponentSuspended",
	ErrorDynamicResourcesUnavailable:   "OMX_ErrorDynamicResourcesUnavailable",
	ErrorMbErrorsInFrame:               "OMX_ErrorMbErrorsInFrame",
	ErrorFormatNotDetected:             "OMX_ErrorFormatNotDetected",
	ErrorContentPipeOpenFailed:         "OMX_ErrorContentPipeOpenFailed",
	ErrorContentPipeCreationFailed:     "OMX_ErrorContentPipeCreationFailed",
	ErrorSeperateTablesUsed:            "OMX_ErrorSeperateTablesUsed",
	ErrorTunnelingUnsupported:          "OMX_ErrorTunnelingUnsupported",
}

func (e Error) Error() string {
	if n, ok := errorNames[e]; ok {
		return n
	}
	return fmt.Sprintf("OMX_Error(0x%08x)", uint32(e))
}

// String prints the numeric code next to the name, as the summary does.
func (e Error) String() string {
	return fmt.Sprintf("0x%08x %s", uint32(e), e.Error())
}

// FromCode converts a raw return value. Zero maps to nil.
func FromCode(code uint32) error {
	if code == 0 {
		return nil
	}
	return Error(code)
}

// Code extracts the IL error code carried by err. A nil error is ErrorNone,
// and anything that does not wrap an omx.Error is ErrorUndefined.
func Code(err error) Error {
	if err == nil {
		return ErrorNone
	}
	var e Error
	if errors.As(err, &e) {
		return e
	}
	return ErrorUndefined
}
