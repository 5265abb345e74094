package status

type HTTPError struct {
	Message string
	Code    Code
}

func NewError(code Code, message string) error {
	return HTTPError{
		Code:    code,
		Message: message,
	}
}

func (h HTTPError) Error() string {
	return h.Message
}

var (
	ErrCloseConnection = NewError(0, "actively closing the connection")
	ErrPoolExhausted   = NewError(ServiceUnavailable, "no free connection slot")
	// ErrOutOfMemory is unrecoverable: the device restarts rather than keep running with
	// a partially built response.
	ErrOutOfMemory = NewError(InternalServerError, "out of memory")

	ErrBadRequest           = NewError(BadRequest, "bad request")
	ErrBadParams            = NewError(BadRequest, "bad URI params")
	ErrBadContentLength     = NewError(BadRequest, "bad Content-Length value")
	ErrMethodNotImplemented = NewError(NotImplemented, "request method is not supported")
	ErrURITooLong           = NewError(RequestURITooLong, "request URI too long")
	ErrTokenTooLong         = NewError(RequestEntityTooLarge, "argument name does not fit the buffer")
	ErrHeaderFieldsTooLarge = NewError(RequestHeaderFieldsTooLarge, "too large headers section")
)
