// Package devserver serves a minimal GraphQL check-in API backed by an
// in-memory reference service. It understands the operations the client
// sends, dispatching on operationName; it is not a general GraphQL engine.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/wurt83ow/checkin-client/pkg/appcontext"
	"github.com/wurt83ow/checkin-client/pkg/checkin"
	"github.com/wurt83ow/checkin-client/pkg/gqlclient"
)

// Backend is what the server exposes.
type Backend interface {
	checkin.Service
	Login(ctx context.Context, email, password string) (string, error)
}

// Server wraps a Backend with HTTP handlers.
type Server struct {
	backend Backend
	log     logrus.FieldLogger

	// down makes every request fail with 503, simulating an outage.
	down atomic.Bool
}

// New returns a Server for backend.
func New(backend Backend, log logrus.FieldLogger) *Server {
	return &Server{backend: backend, log: log}
}

// SetDown toggles the simulated outage.
func (s *Server) SetDown(down bool) {
	s.down.Store(down)
}

// Router builds the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.outage, bearerToken)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "OK")
	}).Methods(http.MethodGet)
	r.HandleFunc("/graphql", s.handleProbe).Methods(http.MethodGet)
	r.HandleFunc("/graphql", s.handleGraphQL).Methods(http.MethodPost)
	return r
}

func (s *Server) outage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.down.Load() {
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken moves the Authorization header into the request context.
func bearerToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			r = r.WithContext(appcontext.WithBearerToken(r.Context(), strings.TrimPrefix(h, "Bearer ")))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(r.URL.Query().Get("query")) != gqlclient.ProbeQuery {
		writeJSON(w, http.StatusBadRequest, gqlclient.Response{Errors: []gqlclient.GraphQLError{
			{Message: "only {__typename} is supported over GET", Extensions: map[string]any{"code": "BAD_USER_INPUT"}},
		}})
		return
	}
	writeJSON(w, http.StatusOK, gqlclient.Response{Data: json.RawMessage(`{"__typename":"Query"}`)})
}

func (s *Server) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	var req gqlclient.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, gqlclient.Response{Errors: []gqlclient.GraphQLError{
			{Message: "malformed request body", Extensions: map[string]any{"code": "BAD_REQUEST"}},
		}})
		return
	}

	ctx := r.Context()
	var (
		data any
		err  error
	)
	switch req.OperationName {
	case gqlclient.OperationCheckin:
		rec, callErr := s.backend.Checkin(ctx, stringVar(req, "qrCodeId"), stringVar(req, "eventId"))
		data, err = gqlclient.CheckinData{Checkin: &rec}, callErr
	case gqlclient.OperationCheckout:
		rec, callErr := s.backend.Checkout(ctx, stringVar(req, "qrCodeId"), stringVar(req, "eventId"))
		data, err = gqlclient.CheckoutData{Checkout: &rec}, callErr
	case gqlclient.OperationLogin:
		token, callErr := s.backend.Login(ctx, stringVar(req, "email"), stringVar(req, "password"))
		data, err = gqlclient.LoginData{Login: &gqlclient.LoginPayload{Token: token}}, callErr
	default:
		err = fmt.Errorf("unsupported operation %q", req.OperationName)
	}

	if err != nil {
		s.log.WithError(err).WithField("operation", req.OperationName).Info("Operation rejected")
		writeJSON(w, http.StatusOK, gqlclient.Response{Errors: []gqlclient.GraphQLError{toGraphQLError(err)}})
		return
	}

	raw, err := json.Marshal(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, gqlclient.Response{Data: raw})
}

func stringVar(req gqlclient.Request, name string) string {
	v, _ := req.Variables[name].(string)
	return v
}

func toGraphQLError(err error) gqlclient.GraphQLError {
	code := "BAD_USER_INPUT"
	var se *checkin.ServiceError
	if errors.As(err, &se) {
		switch se.Kind {
		case checkin.KindUnauthorized:
			code = "UNAUTHENTICATED"
		case checkin.KindUnknown:
			code = "BAD_USER_INPUT"
		default:
			code = string(se.Kind)
		}
		return gqlclient.GraphQLError{Message: se.Message, Extensions: map[string]any{"code": code}}
	}
	return gqlclient.GraphQLError{Message: err.Error(), Extensions: map[string]any{"code": code}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
