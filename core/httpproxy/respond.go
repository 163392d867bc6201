package httpproxy

import (
	"fmt"
	"net/http"

	"github.com/searchktools/fast-proxy/core/errs"
)

// statusForError maps a typed failure to the stable wire status class.
// Zero means no response can or should be written (the connection is
// simply closed).
func statusForError(err error) int {
	switch errs.KindOf(err) {
	case errs.ClientProto:
		return http.StatusBadRequest
	case errs.ClientTimeout:
		return http.StatusRequestTimeout
	case errs.ServerPolicy:
		return http.StatusNotFound
	case errs.UpstreamConnect, errs.UpstreamProto, errs.UpstreamIo:
		return http.StatusBadGateway
	case errs.UpstreamTimeout:
		return http.StatusGatewayTimeout
	case errs.ClientIo, errs.TlsHandshake, errs.Shutdown:
		return 0
	default:
		return http.StatusBadGateway
	}
}

// errorResponse builds a minimal response carrying the Via header, so
// even failures identify the hop.
func errorResponse(req *http.Request, status int, close bool) *http.Response {
	resp := &http.Response{
		StatusCode:    status,
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header, 4),
		Body:          http.NoBody,
		ContentLength: 0,
		Close:         close,
		Request:       req,
	}
	appendVia(resp.Header)
	return resp
}
