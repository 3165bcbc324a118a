package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"gopkg.in/op/go-logging.v1"

	"ikedadada/go-onion/cmd/directory/usecase"
	"ikedadada/go-onion/shared/domain/entity"
	"ikedadada/go-onion/shared/domain/repository"
	"ikedadada/go-onion/shared/service"
)

// maxRequestBody bounds a registration request.
const maxRequestBody = 64 << 10

// DirectoryHandler serves the directory HTTP/JSON API.
type DirectoryHandler struct {
	register   usecase.RegisterRelayUseCase
	deregister usecase.DeregisterRelayUseCase
	selectUC   usecase.SelectRelaysUseCase
	list       usecase.ListRelaysUseCase
	log        *logging.Logger
}

func NewDirectoryHandler(
	register usecase.RegisterRelayUseCase,
	deregister usecase.DeregisterRelayUseCase,
	selectUC usecase.SelectRelaysUseCase,
	list usecase.ListRelaysUseCase,
	log *logging.Logger,
) *DirectoryHandler {
	return &DirectoryHandler{register: register, deregister: deregister, selectUC: selectUC, list: list, log: log}
}

// Mux returns the routes of the directory API.
func (h *DirectoryHandler) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+service.DirectoryRelaysPath, h.handleRegister)
	mux.HandleFunc("GET "+service.DirectoryRelaysPath, h.handleSelect)
	mux.HandleFunc("GET "+service.DirectoryRelaysListPath, h.handleList)
	return mux
}

func (h *DirectoryHandler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warningf("write response %s %s: %v", r.Method, r.URL.Path, err)
	}
	h.log.Debugf("response %s %s %d", r.Method, r.URL.Path, status)
}

func (h *DirectoryHandler) fail(w http.ResponseWriter, r *http.Request, status int, msg string) {
	h.writeJSON(w, r, status, service.StatusResponseDTO{Status: service.StatusError, Error: msg})
}

func (h *DirectoryHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	h.log.Debugf("request %s %s", r.Method, r.URL.Path)
	var req service.RegisterRequestDTO
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.fail(w, r, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}

	var err error
	if req.Deregister {
		_, err = h.deregister.Handle(usecase.DeregisterRelayInput{Address: req.Address})
	} else {
		_, err = h.register.Handle(usecase.RegisterRelayInput{Address: req.Address, PublicKey: req.PublicKey})
	}
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, r, http.StatusOK, service.StatusResponseDTO{Status: service.StatusOK})
}

func (h *DirectoryHandler) handleSelect(w http.ResponseWriter, r *http.Request) {
	h.log.Debugf("request %s %s", r.Method, r.URL.String())
	n, err := strconv.Atoi(r.URL.Query().Get("count"))
	if err != nil || n < 1 {
		h.fail(w, r, http.StatusBadRequest, "count must be a positive integer")
		return
	}
	out, err := h.selectUC.Handle(usecase.SelectRelaysInput{Count: n})
	switch {
	case repository.IsInsufficientRelays(err):
		h.fail(w, r, http.StatusServiceUnavailable, service.ErrCodeInsufficient)
		return
	case err != nil:
		h.log.Errorf("select %d relays: %v", n, err)
		h.fail(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, r, http.StatusOK, toList(out.Relays))
}

func (h *DirectoryHandler) handleList(w http.ResponseWriter, r *http.Request) {
	h.log.Debugf("request %s %s", r.Method, r.URL.Path)
	h.writeJSON(w, r, http.StatusOK, toList(h.list.Handle().Relays))
}

func toList(relays []*entity.RelayDescriptor) service.RelayListResponseDTO {
	out := service.RelayListResponseDTO{Status: service.StatusOK, Relays: make([]service.RelayDTO, 0, len(relays))}
	for _, r := range relays {
		out.Relays = append(out.Relays, service.ToRelayDTO(r))
	}
	return out
}
