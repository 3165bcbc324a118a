package service

import (
	"errors"

	"ikedadada/go-onion/shared/domain/repository"
)

// OKReply is a successful destination reply.
func OKReply(headers map[string]string, body []byte) *ReplyDTO {
	return &ReplyDTO{Status: ReplyOK, Headers: headers, Body: body}
}

// ErrorReply converts err into the reply a relay sends back. Unclassified
// errors become protocol errors.
func ErrorReply(err error) *ReplyDTO {
	kind := repository.KindOf(err)
	if kind == repository.KindNone {
		kind = repository.KindProtocol
	}
	return &ReplyDTO{Status: ReplyError, ErrorKind: uint8(kind), Message: err.Error()}
}

// ReplyErr returns the classified error carried by r, nil for success.
func ReplyErr(r *ReplyDTO) error {
	if r.Status == ReplyOK {
		return nil
	}
	kind := repository.ErrorKind(r.ErrorKind)
	if kind == repository.KindNone || kind > repository.KindDestination {
		kind = repository.KindProtocol
	}
	msg := r.Message
	if msg == "" {
		msg = "remote failure"
	}
	return repository.NewFailure(kind, "", errors.New(msg))
}
