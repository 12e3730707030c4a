// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package httpapi is a thin illustrative binding of manager.Manager[T] onto
// gorilla/mux routes, the way the teacher's backend package turns a
// collection configuration into REST routes. It is not a complete HTTP
// layer -- query/sort/partial encoding, content negotiation, and auth are
// covered only far enough to exercise the manager.Manager operations it
// routes. Switch and Migrate have no route.
package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/HYChou0515/autocrud-sub001/logger"
	"github.com/HYChou0515/autocrud-sub001/manager"
	"github.com/HYChou0515/autocrud-sub001/query"
	"github.com/HYChou0515/autocrud-sub001/resource"
	"github.com/HYChou0515/autocrud-sub001/scope"
)

// NewRouter returns a gorilla/mux router with a request-scoped logger
// middleware installed, mirroring the teacher's ContextWithLogger pattern
// applied per request instead of per background job.
func NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestLoggerMiddleware)
	return r
}

// requestLoggerMiddleware attaches a fresh request-id-tagged logger to each
// request's context, the HTTP-handler equivalent of the teacher's
// logger.ContextWithLogger call at the top of a job handler.
func requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, rlog := logger.ContextWithLogger(r.Context())
		rlog.WithField("method", r.Method).WithField("path", r.URL.Path).Debug("request received")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithCompression wraps h in gorilla/handlers' gzip compressor, the same
// wrapper the teacher applies around its top-level router.
func WithCompression(h http.Handler) http.Handler {
	return handlers.CompressHandler(h)
}

// JWTActor extracts a bearer token's "sub" claim as the acting user,
// trimmed down from the teacher's core/access JWT middleware (no issuer
// verification, no account-registry lookup) since request authentication
// is explicitly out of this module's scope. A real deployment wraps this
// with proper signature verification before trusting the claim.
func JWTActor(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	token := strings.TrimPrefix(auth, "Bearer ")
	parser := jwt.Parser{}
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return "", false
	}
	sub, _ := claims["sub"].(string)
	return sub, sub != ""
}

// Mount registers the REST surface for one resource type under
// prefix+"/{model}" on r, backed by mgr. modelName is the path segment
// (e.g. "widgets").
func Mount[T any](r *mux.Router, prefix, modelName string, mgr *manager.Manager[T]) {
	base := prefix + "/" + modelName
	sub := r.PathPrefix(base).Subrouter()

	sub.HandleFunc("", handleCreate(mgr)).Methods(http.MethodPost)
	sub.HandleFunc("", handleList(mgr)).Methods(http.MethodGet)
	sub.HandleFunc("/count", handleCount(mgr)).Methods(http.MethodGet)
	sub.HandleFunc("", handleBatchDelete(mgr)).Methods(http.MethodDelete)
	sub.HandleFunc("/restore", handleBatchRestore(mgr)).Methods(http.MethodPost)
	sub.HandleFunc("/{id}", handleGet(mgr)).Methods(http.MethodGet)
	sub.HandleFunc("/{id}", handleUpdate(mgr)).Methods(http.MethodPut)
	sub.HandleFunc("/{id}", handlePatch(mgr)).Methods(http.MethodPatch)
	sub.HandleFunc("/{id}", handleDelete(mgr)).Methods(http.MethodDelete)
	sub.HandleFunc("/{id}/restore", handleRestore(mgr)).Methods(http.MethodPost)
	sub.HandleFunc("/{id}/revision-list", handleListRevisions(mgr)).Methods(http.MethodGet)
	sub.HandleFunc("/{id}/blobs/{file_id}", handleGetBlob(mgr)).Methods(http.MethodGet)
}

func withScope(r *http.Request) *http.Request {
	actor, ok := JWTActor(r)
	if !ok {
		actor = "anonymous"
	}
	ctx := scope.With(r.Context(), actor, time.Now())
	return r.WithContext(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch resource.KindOf(err) {
	case resource.KindResourceIDNotFound, resource.KindRevisionIDNotFound, resource.KindBlobNotFound:
		status = http.StatusNotFound
	case resource.KindResourceIsDeleted:
		status = http.StatusGone
	case resource.KindValidationError, resource.KindSchemaConflict, resource.KindPatchApplyFailed:
		status = http.StatusUnprocessableEntity
	case resource.KindPermissionDenied:
		status = http.StatusForbidden
	case resource.KindS3Conflict:
		status = http.StatusConflict
	case resource.KindQueryParseError:
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": string(resource.KindOf(err)), "message": err.Error()})
}

func handleCreate[T any](mgr *manager.Manager[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r = withScope(r)
		var data T
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
			writeError(w, resource.Wrap(resource.KindValidationError, err, "decode request body"))
			return
		}
		meta, err := mgr.Create(r.Context(), data)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, meta)
	}
}

func handleGet[T any](mgr *manager.Manager[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r = withScope(r)
		id := mux.Vars(r)["id"]
		revisionID := r.URL.Query().Get("revision_id")
		if revisionID != "" {
			v, err := mgr.GetRevision(r.Context(), id, revisionID)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, resource.FullResourceResponse{Data: v})
			return
		}
		if partial := r.URL.Query().Get("partial"); partial != "" {
			paths := strings.Split(partial, ",")
			projection, err := mgr.GetPartial(r.Context(), id, "", paths)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, resource.FullResourceResponse{Partial: projection})
			return
		}
		v, err := mgr.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resource.FullResourceResponse{Data: v})
	}
}

func handleUpdate[T any](mgr *manager.Manager[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r = withScope(r)
		id := mux.Vars(r)["id"]
		var data T
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
			writeError(w, resource.Wrap(resource.KindValidationError, err, "decode request body"))
			return
		}
		meta, err := mgr.Update(r.Context(), id, data)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, meta)
	}
}

func handlePatch[T any](mgr *manager.Manager[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r = withScope(r)
		id := mux.Vars(r)["id"]
		var ops []manager.PatchOp
		if err := json.NewDecoder(r.Body).Decode(&ops); err != nil {
			writeError(w, resource.Wrap(resource.KindPatchApplyFailed, err, "decode patch document"))
			return
		}
		meta, err := mgr.Patch(r.Context(), id, ops)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, meta)
	}
}

func handleDelete[T any](mgr *manager.Manager[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r = withScope(r)
		id := mux.Vars(r)["id"]
		if err := mgr.Delete(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleRestore[T any](mgr *manager.Manager[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r = withScope(r)
		id := mux.Vars(r)["id"]
		if err := mgr.Restore(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListRevisions[T any](mgr *manager.Manager[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r = withScope(r)
		id := mux.Vars(r)["id"]
		revisions, err := mgr.ListRevisions(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		meta, err := mgr.GetMeta(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"meta":      meta,
			"revisions": revisions,
			"total":     len(revisions),
		})
	}
}

func handleGetBlob[T any](mgr *manager.Manager[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r = withScope(r)
		vars := mux.Vars(r)
		data, contentType, err := mgr.GetBlob(r.Context(), vars["id"], vars["file_id"])
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(data)
	}
}

func handleList[T any](mgr *manager.Manager[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r = withScope(r)
		q, err := parseQuery(r)
		if err != nil {
			writeError(w, err)
			return
		}
		opts := parseListOptions(r)
		results, total, err := mgr.ListResources(r.Context(), q, opts)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("X-Total-Count", strconv.Itoa(total))
		writeJSON(w, http.StatusOK, results)
	}
}

func handleCount[T any](mgr *manager.Manager[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r = withScope(r)
		q, err := parseQuery(r)
		if err != nil {
			writeError(w, err)
			return
		}
		count, err := mgr.CountResources(r.Context(), q)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, count)
	}
}

func handleBatchDelete[T any](mgr *manager.Manager[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r = withScope(r)
		q, err := parseQuery(r)
		if err != nil {
			writeError(w, err)
			return
		}
		n, err := mgr.BatchDelete(r.Context(), q)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
	}
}

func handleBatchRestore[T any](mgr *manager.Manager[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r = withScope(r)
		q, err := parseQuery(r)
		if err != nil {
			writeError(w, err)
			return
		}
		n, err := mgr.BatchRestore(r.Context(), q)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"restored": n})
	}
}

// parseQuery decodes the wire query encoding described in spec section 6:
// either a "qb" expression or nothing (the JSON conditions/sorts array
// forms are left to a richer client library; qb covers the safe-evaluator
// requirement this module exists to demonstrate).
func parseQuery(r *http.Request) (query.Query, error) {
	values := r.URL.Query()
	qb := values.Get("qb")
	hasOtherFilters := values.Get("conditions") != "" || values.Get("data_conditions") != "" || values.Get("sorts") != ""
	if qb != "" && hasOtherFilters {
		return query.Query{}, resource.NewError(resource.KindValidationError, "qb cannot be combined with other filter parameters")
	}
	if qb != "" {
		return query.ParseQB(qb)
	}
	var q query.Query
	if limit := values.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			return query.Query{}, resource.Wrap(resource.KindQueryParseError, err, "parse limit")
		}
		q.Limit = n
	}
	if offset := values.Get("offset"); offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil {
			return query.Query{}, resource.Wrap(resource.KindQueryParseError, err, "parse offset")
		}
		q.Offset = n
	}
	return q, nil
}

func parseListOptions(r *http.Request) manager.ListOptions {
	var opts manager.ListOptions
	if returns := r.URL.Query().Get("returns"); returns != "" {
		for _, s := range strings.Split(returns, ",") {
			opts.Returns = append(opts.Returns, resource.ReturnSection(s))
		}
	}
	if partial := r.URL.Query().Get("partial"); partial != "" {
		opts.Partial = strings.Split(partial, ",")
	}
	return opts
}
