package handler

import (
	"net/http"

	"newsletter-reader/internal/domain"
	"newsletter-reader/internal/middleware"
	"newsletter-reader/internal/service"

	"github.com/gorilla/mux"
)

type readerResponse struct {
	Item  *service.ReaderItem `json:"item"`
	Read  string              `json:"read,omitempty"`
	State service.ViewState   `json:"state"`
}

type ReaderHandler struct {
	registry       *service.Registry
	authMiddleware *middleware.AuthMiddleware
}

func NewReaderHandler(registry *service.Registry, authMiddleware *middleware.AuthMiddleware) *ReaderHandler {
	return &ReaderHandler{
		registry:       registry,
		authMiddleware: authMiddleware,
	}
}

func (h *ReaderHandler) Current(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func(v *service.NewsletterView) (service.ReaderItem, bool, string) {
		item, ok := v.Current()
		return item, ok, ""
	})
}

func (h *ReaderHandler) Next(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func(v *service.NewsletterView) (service.ReaderItem, bool, string) {
		item, ok := v.Next()
		return item, ok, ""
	})
}

func (h *ReaderHandler) Prev(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func(v *service.NewsletterView) (service.ReaderItem, bool, string) {
		item, ok := v.Prev()
		return item, ok, ""
	})
}

// Done marks the current post read and returns the post that takes its
// place under the cursor.
func (h *ReaderHandler) Done(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func(v *service.NewsletterView) (service.ReaderItem, bool, string) {
		mark := v.MarkCurrentRead(r.Context())
		state := ""
		if mark != nil {
			state = mark.State().String()
		}
		item, ok := v.Current()
		return item, ok, state
	})
}

// MarkRead marks any post as read by id.
func (h *ReaderHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id := domain.PostID(mux.Vars(r)["id"])
	if id == "" {
		writeError(w, domain.ErrInvalidPostID)
		return
	}
	h.respond(w, r, func(v *service.NewsletterView) (service.ReaderItem, bool, string) {
		mark := v.MarkRead(r.Context(), id)
		item, ok := v.Current()
		return item, ok, mark.State().String()
	})
}

func (h *ReaderHandler) respond(w http.ResponseWriter, r *http.Request, step func(*service.NewsletterView) (service.ReaderItem, bool, string)) {
	sess, ok := sessionFor(w, r, h.authMiddleware, h.registry)
	if !ok {
		return
	}

	item, found, read := step(sess.View)
	resp := readerResponse{Read: read, State: sess.View.Snapshot()}
	if found {
		resp.Item = &item
	}
	writeJSON(w, http.StatusOK, resp)
}
