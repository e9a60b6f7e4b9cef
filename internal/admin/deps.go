package admin

import (
	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"simlink/config"
	"simlink/internal/repo"
)

type Dependencies struct {
	DB  *gorm.DB
	DS  *repo.DeviceStore
	MS  *repo.MessageStore
	CFG *config.Config
}

func Attach(r *mux.Router, d Dependencies) {
	h := &Handler{d: d, t: parseTemplates()}
	sub := r.PathPrefix("/admin").Subrouter()

	// pages
	sub.HandleFunc("", h.redirect("/admin/devices")).Methods("GET")
	sub.HandleFunc("/", h.redirect("/admin/devices")).Methods("GET")
	sub.HandleFunc("/devices", h.DevicesList).Methods("GET")
	sub.HandleFunc("/devices/{id}", h.DeviceDetail).Methods("GET")

	// static (very small)
	sub.HandleFunc("/static/style.css", serveCSS).Methods("GET")
}
