package webchat

import (
	"fmt"
	"net/http"

	"go.mau.fi/util/exhttp"
)

// RespError is a JSON error body for the host HTTP endpoints.
type RespError struct {
	ErrCode    string `json:"errcode"`
	Err        string `json:"error"`
	StatusCode int    `json:"-"`
}

func (e RespError) Error() string {
	return fmt.Sprintf("%s: %s", e.ErrCode, e.Err)
}

func (e RespError) WithMessage(msg string, args ...any) RespError {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	e.Err = msg
	return e
}

func (e RespError) Write(w http.ResponseWriter) {
	status := e.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	exhttp.WriteJSONResponse(w, status, e)
}

var (
	ErrBadJSON = RespError{
		ErrCode:    "IO.WEBCHAT.BAD_JSON",
		Err:        "Request body is not valid JSON.",
		StatusCode: http.StatusBadRequest,
	}
	ErrMessageEmpty = RespError{
		ErrCode:    "IO.WEBCHAT.MESSAGE_EMPTY",
		Err:        "Enter a message.",
		StatusCode: http.StatusBadRequest,
	}
	ErrNotDelivered = RespError{
		ErrCode:    "IO.WEBCHAT.NOT_DELIVERED",
		Err:        "The web chat didn't accept the message.",
		StatusCode: http.StatusServiceUnavailable,
	}
)
