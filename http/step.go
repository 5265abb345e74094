package http

// Step is the coarse protocol phase of a connection. Every step except StepReadHeader is set
// right before the handler is invoked, so the handler can tell which phase produced the event.
type Step uint8

const (
	StepReadHeader Step = iota
	StepRequestMethod
	StepRequestURI
	StepHeader
	StepArgs
	StepSendHeader
	StepCreateHeader
	StepRW
	StepSending
	StepClose
)

func (s Step) String() string {
	switch s {
	case StepReadHeader:
		return "ReadHeader"
	case StepRequestMethod:
		return "RequestMethod"
	case StepRequestURI:
		return "RequestURI"
	case StepHeader:
		return "Header"
	case StepArgs:
		return "Args"
	case StepSendHeader:
		return "SendHeader"
	case StepCreateHeader:
		return "CreateHeader"
	case StepRW:
		return "RW"
	case StepSending:
		return "Sending"
	case StepClose:
		return "Close"
	default:
		return "Unknown"
	}
}
