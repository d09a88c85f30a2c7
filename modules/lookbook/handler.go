package lookbook

import (
	"net/http"

	"github.com/gorilla/mux"

	"stylist-server/modules/common/logger"
	"stylist-server/modules/common/response"
)

// Handler - lookbook / vote / resource API
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes - 라우트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/lookbooks", h.createLookbook).Methods(http.MethodPost)
	r.HandleFunc("/lookbooks", h.listLookbooks).Methods(http.MethodGet)
	r.HandleFunc("/lookbooks/{id}", h.getLookbook).Methods(http.MethodGet)
	r.HandleFunc("/lookbooks/{id}", h.deleteLookbook).Methods(http.MethodDelete)
	r.HandleFunc("/votes", h.createVote).Methods(http.MethodPost)
	r.HandleFunc("/votes/{id}", h.deleteVote).Methods(http.MethodDelete)
	r.HandleFunc("/resources", h.createResource).Methods(http.MethodPost)
	r.HandleFunc("/resources", h.listResources).Methods(http.MethodGet)
	r.HandleFunc("/resources/{id}", h.deleteResource).Methods(http.MethodDelete)

	log := logger.For("lookbook")
	log.Info().Msg("✅ [Lookbook] Routes registered: /lookbooks, /votes, /resources")
}

func (h *Handler) createLookbook(w http.ResponseWriter, r *http.Request) {
	var lb Lookbook
	if err := response.DecodeJSON(r, &lb); err != nil {
		response.WriteError(w, r, err)
		return
	}
	created, err := h.service.CreateLookbook(lb)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) listLookbooks(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.ListLookbooks(r.URL.Query().Get("userId"))
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, rows)
}

func (h *Handler) getLookbook(w http.ResponseWriter, r *http.Request) {
	lb, err := h.service.GetLookbook(mux.Vars(r)["id"])
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, lb)
}

func (h *Handler) deleteLookbook(w http.ResponseWriter, r *http.Request) {
	h.softDelete(w, r, h.service.DeleteLookbook(mux.Vars(r)["id"]))
}

func (h *Handler) createVote(w http.ResponseWriter, r *http.Request) {
	var v Vote
	if err := response.DecodeJSON(r, &v); err != nil {
		response.WriteError(w, r, err)
		return
	}
	created, err := h.service.CreateVote(v)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) deleteVote(w http.ResponseWriter, r *http.Request) {
	h.softDelete(w, r, h.service.DeleteVote(mux.Vars(r)["id"]))
}

func (h *Handler) createResource(w http.ResponseWriter, r *http.Request) {
	var res Resource
	if err := response.DecodeJSON(r, &res); err != nil {
		response.WriteError(w, r, err)
		return
	}
	created, err := h.service.CreateResource(res)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) listResources(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := h.service.ListResources(q.Get("userId"), q.Get("kind"))
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, rows)
}

func (h *Handler) deleteResource(w http.ResponseWriter, r *http.Request) {
	h.softDelete(w, r, h.service.DeleteResource(mux.Vars(r)["id"]))
}

func (h *Handler) softDelete(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}
