package server

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/JustVugg/msgboard/internal/forwarder"
	"github.com/JustVugg/msgboard/internal/metrics"
)

var ErrMissingContentLength = errors.New("request has no Content-Length")

// submitHandler forwards POST bodies to the storage daemon and redirects
// home. The redirect does not depend on the datagram arriving or on the
// body being a valid form.
type submitHandler struct {
	sender forwarder.Sender
	logger *zap.Logger
}

func (h *submitHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// net/http already answers 400 to an unparsable Content-Length. Left to
	// catch here are chunked bodies and requests without the header.
	if r.ContentLength < 0 || (r.ContentLength == 0 && r.Header.Get("Content-Length") == "") {
		h.logger.Warn("rejecting submission", zap.String("path", r.URL.Path), zap.Error(ErrMissingContentLength))
		http.Error(w, "Content-Length required", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Warn("failed to read submission body", zap.Error(err))
		http.Error(w, "could not read request body", http.StatusBadRequest)
		return
	}

	err = h.sender.Send(body)
	metrics.DatagramSent(err)
	if err != nil {
		h.logger.Error("failed to forward submission", zap.Int("bytes", len(body)), zap.Error(err))
	}

	w.Header().Set("Location", "/")
	w.WriteHeader(http.StatusFound)
}
