// Package gqlclient talks to the GraphQL check-in API over HTTP.
package gqlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/oapi-codegen/runtime"

	"github.com/wurt83ow/checkin-client/pkg/appcontext"
	"github.com/wurt83ow/checkin-client/pkg/checkin"
	"github.com/wurt83ow/checkin-client/pkg/models"
)

// RequestEditorFn is the function signature for the RequestEditor callback function
type RequestEditorFn func(ctx context.Context, req *http.Request) error

// HttpRequestDoer performs HTTP requests.
//
// The standard http.Client implements this interface.
type HttpRequestDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenSource supplies the bearer token for requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client calls the check-in API.
type Client struct {
	// Server is the GraphQL endpoint, e.g. http://localhost:4000/graphql.
	Server string

	// Doer for performing requests, typically a *http.Client with any
	// customized settings, such as timeouts.
	Client HttpRequestDoer

	// A list of callbacks for modifying requests which are generated before sending over
	// the network.
	RequestEditors []RequestEditorFn
}

// ClientOption allows setting custom parameters during construction
type ClientOption func(*Client) error

// NewClient creates a new Client, with reasonable defaults
func NewClient(server string, opts ...ClientOption) (*Client, error) {
	client := Client{Server: server}
	for _, o := range opts {
		if err := o(&client); err != nil {
			return nil, err
		}
	}
	if _, err := url.Parse(client.Server); err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if client.Client == nil {
		client.Client = &http.Client{}
	}
	return &client, nil
}

// WithHTTPClient allows overriding the default Doer, which is
// automatically created using http.Client. This is useful for tests.
func WithHTTPClient(doer HttpRequestDoer) ClientOption {
	return func(c *Client) error {
		c.Client = doer
		return nil
	}
}

// WithRequestEditorFn allows setting up a callback function, which will be
// called right before sending the request. This can be used to mutate the request.
func WithRequestEditorFn(fn RequestEditorFn) ClientOption {
	return func(c *Client) error {
		c.RequestEditors = append(c.RequestEditors, fn)
		return nil
	}
}

// anonymousKey marks calls that must not use the stored session.
type anonymousKey struct{}

// WithTokenSource attaches "Authorization: Bearer" to every request except
// Login. A token placed in the context with appcontext.WithBearerToken wins
// over src. A src failure, such as an expired session, is reported as
// UNAUTHORIZED.
func WithTokenSource(src TokenSource) ClientOption {
	return WithRequestEditorFn(func(ctx context.Context, req *http.Request) error {
		if anon, _ := ctx.Value(anonymousKey{}).(bool); anon {
			return nil
		}
		token, ok := appcontext.BearerToken(ctx)
		if !ok && src != nil {
			var err error
			if token, err = src.Token(ctx); err != nil {
				return &checkin.ServiceError{Kind: checkin.KindUnauthorized, Message: "no usable session", Err: err}
			}
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return nil
	})
}

// Checkin records an arrival.
func (c *Client) Checkin(ctx context.Context, qrCode, eventID string) (models.CheckinRecord, error) {
	var data CheckinData
	err := c.do(ctx, Request{
		Query:         CheckinMutation,
		OperationName: OperationCheckin,
		Variables:     map[string]any{"qrCodeId": qrCode, "eventId": eventID},
	}, &data)
	if err != nil {
		return models.CheckinRecord{}, err
	}
	if data.Checkin == nil {
		return models.CheckinRecord{}, checkin.NewError(checkin.KindUnknown, "empty checkin result")
	}
	return *data.Checkin, nil
}

// Checkout records a departure.
func (c *Client) Checkout(ctx context.Context, qrCode, eventID string) (models.CheckinRecord, error) {
	var data CheckoutData
	err := c.do(ctx, Request{
		Query:         CheckoutMutation,
		OperationName: OperationCheckout,
		Variables:     map[string]any{"qrCodeId": qrCode, "eventId": eventID},
	}, &data)
	if err != nil {
		return models.CheckinRecord{}, err
	}
	if data.Checkout == nil {
		return models.CheckinRecord{}, checkin.NewError(checkin.KindUnknown, "empty checkout result")
	}
	return *data.Checkout, nil
}

// Login exchanges staff credentials for a bearer token. It never sends the
// stored session, so an expired one does not block logging in again.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	ctx = context.WithValue(ctx, anonymousKey{}, true)
	var data LoginData
	err := c.do(ctx, Request{
		Query:         LoginMutation,
		OperationName: OperationLogin,
		Variables:     map[string]any{"email": email, "password": password},
	}, &data)
	if err != nil {
		return "", err
	}
	if data.Login == nil || data.Login.Token == "" {
		return "", checkin.NewError(checkin.KindUnauthorized, "login returned no token")
	}
	return data.Login.Token, nil
}

// Probe checks that the API answers a trivial GET query. It is used by the
// connectivity monitor and does not need authentication.
func (c *Client) Probe(ctx context.Context) error {
	req, err := NewProbeRequest(c.Server)
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)

	rsp, err := c.Client.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer rsp.Body.Close()
	io.Copy(io.Discard, rsp.Body)

	if rsp.StatusCode >= 500 {
		return checkin.NetworkError(fmt.Errorf("probe: %s", rsp.Status))
	}
	return nil
}

// NewProbeRequest builds GET <server>?query={__typename}.
func NewProbeRequest(server string) (*http.Request, error) {
	queryParam, err := runtime.StyleParamWithLocation("form", true, "query", runtime.ParamLocationQuery, ProbeQuery)
	if err != nil {
		return nil, err
	}
	serverURL, err := url.Parse(server)
	if err != nil {
		return nil, err
	}
	serverURL.RawQuery = queryParam

	return http.NewRequest(http.MethodGet, serverURL.String(), nil)
}

// NewGraphQLRequest builds the POST request for body.
func NewGraphQLRequest(server string, body Request) (*http.Request, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, server, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(ctx context.Context, body Request, out any) error {
	req, err := NewGraphQLRequest(c.Server, body)
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)
	if err := c.applyEditors(ctx, req, nil); err != nil {
		return err
	}

	rsp, err := c.Client.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer rsp.Body.Close()

	raw, err := io.ReadAll(rsp.Body)
	if err != nil {
		return transportError(ctx, err)
	}

	if kind, failed := statusKind(rsp.StatusCode); failed {
		return &checkin.ServiceError{Kind: kind, Message: fmt.Sprintf("%s: %s", body.OperationName, rsp.Status)}
	}

	var gql Response
	if err := json.Unmarshal(raw, &gql); err != nil {
		return &checkin.ServiceError{Kind: checkin.KindUnknown, Message: "malformed response", Err: err}
	}
	if len(gql.Errors) > 0 {
		return graphQLError(gql.Errors[0])
	}
	if err := json.Unmarshal(gql.Data, out); err != nil {
		return &checkin.ServiceError{Kind: checkin.KindUnknown, Message: "malformed response data", Err: err}
	}
	return nil
}

func (c *Client) applyEditors(ctx context.Context, req *http.Request, additionalEditors []RequestEditorFn) error {
	for _, r := range c.RequestEditors {
		if err := r(ctx, req); err != nil {
			return err
		}
	}
	for _, r := range additionalEditors {
		if err := r(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// transportError keeps cancellation of the caller's context distinguishable
// from network failures.
func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(ctxErr, context.Canceled) {
		return ctxErr
	}
	return checkin.NetworkError(err)
}

func statusKind(code int) (checkin.ErrorKind, bool) {
	switch {
	case code >= 200 && code < 300:
		return "", false
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return checkin.KindUnauthorized, true
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return checkin.KindNetwork, true
	}
	return checkin.KindUnknown, true
}

func graphQLError(e GraphQLError) *checkin.ServiceError {
	kind := checkin.KindUnknown
	switch strings.ToUpper(e.Code()) {
	case "INVALID_QR":
		kind = checkin.KindInvalidQR
	case "INACTIVE_QR":
		kind = checkin.KindInactiveQR
	case "UNAUTHORIZED", "UNAUTHENTICATED", "FORBIDDEN":
		kind = checkin.KindUnauthorized
	case "NETWORK", "SERVICE_UNAVAILABLE":
		kind = checkin.KindNetwork
	case "":
		msg := strings.ToLower(e.Message)
		switch {
		case strings.Contains(msg, "invalid qr"):
			kind = checkin.KindInvalidQR
		case strings.Contains(msg, "inactive"):
			kind = checkin.KindInactiveQR
		case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "not authenticated"):
			kind = checkin.KindUnauthorized
		}
	}
	return &checkin.ServiceError{Kind: kind, Message: e.Message}
}
