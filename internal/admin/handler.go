package admin

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"simlink/internal/models"
)

type Handler struct {
	d Dependencies
	t pageTemplates
}

func (h *Handler) redirect(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, path, http.StatusFound)
	}
}

func (h *Handler) render(w http.ResponseWriter, page string, data any) {
	t, ok := h.t[page]
	if !ok {
		http.Error(w, "template not found: "+page, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.ExecuteTemplate(w, "layout", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// ---------- Pages ----------

func (h *Handler) DevicesList(w http.ResponseWriter, r *http.Request) {
	var rows []models.Device
	q := h.d.DB.Order("updated_at desc").Limit(200)
	if s := strings.TrimSpace(r.URL.Query().Get("q")); s != "" {
		like := "%" + s + "%"
		q = q.Where("id LIKE ? OR role LIKE ? OR status LIKE ?", like, like, like)
	}
	_ = q.Find(&rows).Error
	h.render(w, "devices_list.tmpl", map[string]any{
		"Title": "Devices",
		"Rows":  rows,
		"Query": r.URL.Query().Get("q"),
	})
}

func (h *Handler) DeviceDetail(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	dev, err := h.d.DS.GetByID(r.Context(), id)
	if err != nil || dev == nil {
		http.NotFound(w, r)
		return
	}
	msgs, _ := h.d.MS.RecentByDevice(r.Context(), id, 50)

	h.render(w, "device_detail.tmpl", map[string]any{
		"Title":    "Device " + dev.ID,
		"Dev":      dev,
		"Messages": msgs,
	})
}
