package api

import (
	"net/http"

	"crmstore/model"
)

func (h *Handler) AddInteraction(w http.ResponseWriter, r *http.Request) {
	var payload model.InteractionPayload

	if !h.decode(w, r, &payload) {
		return
	}

	i, err := h.Interactions.AddInteraction(payload)

	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, i)
}

func (h *Handler) GetInteraction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)

	if !ok {
		return
	}

	i, err := h.Interactions.GetInteraction(id)

	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, i)
}

func (h *Handler) UpdateInteraction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)

	if !ok {
		return
	}

	var payload model.InteractionPayload

	if !h.decode(w, r, &payload) {
		return
	}

	i, err := h.Interactions.UpdateInteraction(id, payload)

	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, i)
}

func (h *Handler) DeleteInteraction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)

	if !ok {
		return
	}

	i, err := h.Interactions.DeleteInteraction(id)

	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, i)
}
