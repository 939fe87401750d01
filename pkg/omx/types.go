// Package omx defines the OpenMAX IL types the harness exchanges with a
// component under test: lifecycle states, commands, events, parameter
// indices, buffer headers and the capability interfaces a component and an
// IL core expose.
package omx

import "fmt"

// State mirrors OMX_STATETYPE.
type State uint32

const (
	StateInvalid State = iota
	StateLoaded
	StateIdle
	StateExecuting
	StatePause
	StateWaitForResources
)

// StateUnloaded is not an IL state. It marks a handle released via FreeHandle.
const StateUnloaded State = 0x7FFFFFFF

var stateNames = map[State]string{
	StateInvalid:          "Invalid",
	StateLoaded:           "Loaded",
	StateIdle:             "Idle",
	StateExecuting:        "Executing",
	StatePause:            "Pause",
	StateWaitForResources: "WaitForResources",
	StateUnloaded:         "Unloaded",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", uint32(s))
}

// ParseState accepts the names returned by State.String, case sensitive.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return StateInvalid, fmt.Errorf("unknown state %q", name)
}

// AllStates lists the six IL states in enum order.
func AllStates() []State {
	return []State{StateInvalid, StateLoaded, StateIdle, StateExecuting, StatePause, StateWaitForResources}
}

// TransitionResult is what a component must answer to StateSet(to) while in from.
type TransitionResult int

const (
	TransitionOK TransitionResult = iota
	TransitionSameState
	TransitionIllegal
	TransitionFromInvalid
)

// Transition classifies a StateSet request.
//
// Loaded <-> Idle <-> Executing <-> Pause, Idle <-> Pause and
// Loaded <-> WaitForResources are legal. Any state may go to Invalid.
// Once Invalid, every request is rejected with ErrorInvalidState.
func Transition(from, to State) TransitionResult {
	if from == StateInvalid {
		return TransitionFromInvalid
	}
	if from == to {
		return TransitionSameState
	}
	if to == StateInvalid {
		return TransitionOK
	}
	switch from {
	case StateLoaded:
		if to == StateIdle || to == StateWaitForResources {
			return TransitionOK
		}
	case StateIdle:
		if to == StateLoaded || to == StateExecuting || to == StatePause {
			return TransitionOK
		}
	case StateExecuting, StatePause:
		if to == StateIdle || to == StateExecuting || to == StatePause {
			return TransitionOK
		}
	case StateWaitForResources:
		if to == StateLoaded {
			return TransitionOK
		}
	}
	return TransitionIllegal
}

// Err returns the error a component must report for a rejected request, or
// nil for TransitionOK.
func (r TransitionResult) Err() error {
	switch r {
	case TransitionSameState:
		return ErrorSameState
	case TransitionIllegal:
		return ErrorIncorrectStateTransition
	case TransitionFromInvalid:
		return ErrorInvalidState
	}
	return nil
}

// Command mirrors OMX_COMMANDTYPE.
type Command uint32

const (
	CommandStateSet Command = iota
	CommandFlush
	CommandPortDisable
	CommandPortEnable
	CommandMarkBuffer
)

func (c Command) String() string {
	switch c {
	case CommandStateSet:
		return "StateSet"
	case CommandFlush:
		return "Flush"
	case CommandPortDisable:
		return "PortDisable"
	case CommandPortEnable:
		return "PortEnable"
	case CommandMarkBuffer:
		return "MarkBuffer"
	}
	return fmt.Sprintf("Command(%d)", uint32(c))
}

// Event mirrors OMX_EVENTTYPE.
type Event uint32

const (
	EventCmdComplete Event = iota
	EventError
	EventMark
	EventPortSettingsChanged
	EventBufferFlag
	EventResourcesAcquired
	EventComponentResumed
	EventDynamicResourcesAvailable
	EventPortFormatDetected
)

func (e Event) String() string {
	switch e {
	case EventCmdComplete:
		return "CmdComplete"
	case EventError:
		return "Error"
	case EventMark:
		return "Mark"
	case EventPortSettingsChanged:
		return "PortSettingsChanged"
	case EventBufferFlag:
		return "BufferFlag"
	case EventResourcesAcquired:
		return "ResourcesAcquired"
	case EventComponentResumed:
		return "ComponentResumed"
	case EventDynamicResourcesAvailable:
		return "DynamicResourcesAvailable"
	case EventPortFormatDetected:
		return "PortFormatDetected"
	}
	return fmt.Sprintf("Event(%d)", uint32(e))
}

// Dir mirrors OMX_DIRTYPE.
type Dir uint32

const (
	DirInput Dir = iota
	DirOutput
)

func (d Dir) String() string {
	if d == DirInput {
		return "input"
	}
	if d == DirOutput {
		return "output"
	}
	return fmt.Sprintf("Dir(%d)", uint32(d))
}

// Domain mirrors OMX_PORTDOMAINTYPE.
type Domain uint32

const (
	DomainAudio Domain = iota
	DomainVideo
	DomainImage
	DomainOther
)

func (d Domain) String() string {
	switch d {
	case DomainAudio:
		return "audio"
	case DomainVideo:
		return "video"
	case DomainImage:
		return "image"
	case DomainOther:
		return "other"
	}
	return fmt.Sprintf("Domain(%d)", uint32(d))
}

// Domains lists the four port domains in discovery order.
func Domains() []Domain {
	return []Domain{DomainAudio, DomainVideo, DomainImage, DomainOther}
}

// BufferSupplier mirrors OMX_BUFFERSUPPLIERTYPE.
type BufferSupplier uint32

const (
	SupplyUnspecified BufferSupplier = iota
	SupplyInput
	SupplyOutput
)

// Buffer flags (OMX_BUFFERFLAG_*).
const (
	BufferFlagEOS         uint32 = 0x00000001
	BufferFlagStartTime   uint32 = 0x00000002
	BufferFlagDecodeOnly  uint32 = 0x00000004
	BufferFlagDataCorrupt uint32 = 0x00000008
	BufferFlagEndOfFrame  uint32 = 0x00000010
	BufferFlagSyncFrame   uint32 = 0x00000020
	BufferFlagExtraData   uint32 = 0x00000040
	BufferFlagCodecConfig uint32 = 0x00000080
)

// PortAll addresses every port in Flush, PortDisable and PortEnable (OMX_ALL).
const PortAll uint32 = 0xFFFFFFFF

// Index mirrors OMX_INDEXTYPE for the indices the harness uses.
type Index uint32

const (
	IndexParamPriorityMgmt Index = 0x01000001
	IndexParamAudioInit    Index = 0x01000002
	IndexParamImageInit    Index = 0x01000003
	IndexParamVideoInit    Index = 0x01000004
	IndexParamOtherInit    Index = 0x01000005

	IndexParamPortDefinition     Index = 0x02000001
	IndexParamCompBufferSupplier Index = 0x02000002

	IndexParamAudioPortFormat Index = 0x04000001
	IndexParamImagePortFormat Index = 0x05000001
	IndexParamVideoPortFormat Index = 0x06000001
	IndexParamOtherPortFormat Index = 0x08000001

	// IndexVendorStartUnused begins the vendor range; the TTC reserves
	// knobs above it.
	IndexVendorStartUnused Index = 0x7F000000
)

// InitIndex returns the domain's port-range query index.
func InitIndex(d Domain) Index {
	switch d {
	case DomainAudio:
		return IndexParamAudioInit
	case DomainVideo:
		return IndexParamVideoInit
	case DomainImage:
		return IndexParamImageInit
	}
	return IndexParamOtherInit
}

// FormatIndex returns the domain's port-format enumeration index.
func FormatIndex(d Domain) Index {
	switch d {
	case DomainAudio:
		return IndexParamAudioPortFormat
	case DomainVideo:
		return IndexParamVideoPortFormat
	case DomainImage:
		return IndexParamImagePortFormat
	}
	return IndexParamOtherPortFormat
}

func (i Index) String() string {
	switch i {
	case IndexParamPriorityMgmt:
		return "ParamPriorityMgmt"
	case IndexParamAudioInit:
		return "ParamAudioInit"
	case IndexParamImageInit:
		return "ParamImageInit"
	case IndexParamVideoInit:
		return "ParamVideoInit"
	case IndexParamOtherInit:
		return "ParamOtherInit"
	case IndexParamPortDefinition:
		return "ParamPortDefinition"
	case IndexParamCompBufferSupplier:
		return "ParamCompBufferSupplier"
	case IndexParamAudioPortFormat:
		return "ParamAudioPortFormat"
	case IndexParamImagePortFormat:
		return "ParamImagePortFormat"
	case IndexParamVideoPortFormat:
		return "ParamVideoPortFormat"
	case IndexParamOtherPortFormat:
		return "ParamOtherPortFormat"
	}
	return fmt.Sprintf("Index(0x%08x)", uint32(i))
}
