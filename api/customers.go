package api

import (
	"net/http"
	"strconv"

	"crmstore/service"
)

const defaultPageSize = 20

type customerBody struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func (h *Handler) AddCustomer(w http.ResponseWriter, r *http.Request) {
	var body customerBody

	if !h.decode(w, r, &body) {
		return
	}

	c, err := h.Customers.AddCustomer(body.Name, body.Email, body.Phone)

	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)

	if !ok {
		return
	}

	c, err := h.Customers.GetCustomer(id)

	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, c)
}

func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)

	if !ok {
		return
	}

	var body customerBody

	if !h.decode(w, r, &body) {
		return
	}

	c, err := h.Customers.UpdateCustomer(id, body.Name, body.Email, body.Phone)

	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, c)
}

func (h *Handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)

	if !ok {
		return
	}

	c, err := h.Customers.DeleteCustomer(id)

	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, c)
}

// SearchCustomers reads name, email and phone filters, page_size and
// page_number from the query. A filter applies only when its parameter is
// present, so ?name= matches customers with an empty name.
func (h *Handler) SearchCustomers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var filter service.SearchFilter

	for key, field := range map[string]**string{"name": &filter.Name, "email": &filter.Email, "phone": &filter.Phone} {
		if query.Has(key) {
			v := query.Get(key)
			*field = &v
		}
	}

	pageSize := uint64(defaultPageSize)
	pageNumber := uint64(1)

	params := []struct {
		key string
		dst *uint64
	}{
		{"page_size", &pageSize},
		{"page_number", &pageNumber},
	}

	for _, p := range params {
		if !query.Has(p.key) {
			continue
		}

		v, err := strconv.ParseUint(query.Get(p.key), 10, 64)

		if err != nil {
			h.badRequest(w, "invalid "+p.key)
			return
		}

		*p.dst = v
	}

	result, err := h.Customers.SearchCustomers(filter, pageSize, pageNumber)

	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}
