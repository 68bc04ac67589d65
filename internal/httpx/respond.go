package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-stock-orders/internal/orders"
)

const maxBodyBytes = 1 << 20

var errMalformedJSON = errors.New("invalid json")

type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	detail := err.Error()
	if code >= http.StatusInternalServerError {
		detail = http.StatusText(code)
	}
	writeJSON(w, code, errorBody{Detail: detail})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, orders.ErrInsufficientStock),
		errors.Is(err, orders.ErrConflict),
		errors.Is(err, orders.ErrPersistence),
		errors.Is(err, errMalformedJSON):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reports syntax errors as errMalformedJSON and wrongly typed fields as validation
// errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err == nil {
		return nil
	}
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, orders.ErrValidation):
		return err
	case errors.As(err, &typeErr):
		return &orders.ValidationError{Field: typeErr.Field, Reason: "must be of type " + typeErr.Type.String()}
	default:
		return errMalformedJSON
	}
}

func required(field string) error {
	return &orders.ValidationError{Field: field, Reason: "field required"}
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, &orders.ValidationError{Field: name, Reason: "must be an integer"}
	}
	return id, nil
}

func queryPage(r *http.Request) (orders.Page, error) {
	var page orders.Page
	q := r.URL.Query()
	for name, dst := range map[string]*int{"skip": &page.Skip, "limit": &page.Limit} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return page, &orders.ValidationError{Field: name, Reason: "must be an integer"}
		}
		*dst = n
	}
	return page, nil
}
