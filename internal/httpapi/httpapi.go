// Package httpapi holds the JSON envelope, error mapping and request payloads
// shared by the module handlers.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/rs/zerolog"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 32 << 20

// seriesEpoch anchors generated timestamps when a payload omits them.
var seriesEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Envelope is the response body of every endpoint.
type Envelope struct {
	Data     interface{} `json:"data,omitempty"`
	Error    string      `json:"error,omitempty"`
	Metadata Metadata    `json:"metadata"`
}

// Metadata accompanies every response.
type Metadata struct {
	Timestamp string `json:"timestamp"`
}

func newMetadata() Metadata {
	return Metadata{Timestamp: time.Now().Format(time.RFC3339)}
}

// WriteJSON writes data in the response envelope.
func WriteJSON(w http.ResponseWriter, log zerolog.Logger, status int, data interface{}) {
	write(w, log, status, Envelope{Data: data, Metadata: newMetadata()})
}

// WriteError maps err to a status code and writes it in the envelope.
func WriteError(w http.ResponseWriter, log zerolog.Logger, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
	} else {
		log.Debug().Err(err).Int("status", status).Msg("Request rejected")
	}
	write(w, log, status, Envelope{Error: err.Error(), Metadata: newMetadata()})
}

// StatusFor returns the HTTP status for an engine error.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, domain.ErrInvalidConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientData),
		errors.Is(err, domain.ErrDegenerateInput),
		errors.Is(err, domain.ErrAllFoldsFailed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// write encodes body before committing the status. An unencodable body is
// answered with a 500.
func write(w http.ResponseWriter, log zerolog.Logger, status int, body Envelope) {
	data, err := json.Marshal(body)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
		status = http.StatusInternalServerError
		data, _ = json.Marshal(Envelope{Error: "failed to encode response", Metadata: body.Metadata})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

// ErrBadRequest marks a malformed request body.
var ErrBadRequest = errors.New("bad request")

// Decode reads a JSON request body into v, rejecting unknown fields.
func Decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

// MatrixPayload carries aligned asset returns. Timestamps are optional; when
// omitted, observations are assigned consecutive days.
type MatrixPayload struct {
	Timestamps []time.Time          `json:"timestamps,omitempty"`
	Assets     map[string][]float64 `json:"assets"`
}

// Matrix builds the return matrix.
func (p MatrixPayload) Matrix() (domain.ReturnMatrix, error) {
	if len(p.Assets) == 0 {
		return domain.ReturnMatrix{}, fmt.Errorf("%w: no asset returns supplied", domain.ErrInvalidConfiguration)
	}
	ts := p.Timestamps
	if len(ts) == 0 {
		for _, col := range p.Assets {
			ts = dailyTimestamps(len(col))
			break
		}
	}
	return domain.NewReturnMatrixFromColumns(ts, p.Assets)
}

// SeriesPayload carries a single return series.
type SeriesPayload struct {
	Name       string      `json:"name,omitempty"`
	Timestamps []time.Time `json:"timestamps,omitempty"`
	Values     []float64   `json:"values"`
}

// Series builds the return series.
func (p SeriesPayload) Series() (domain.ReturnSeries, error) {
	name := p.Name
	if name == "" {
		name = "portfolio"
	}
	ts := p.Timestamps
	if len(ts) == 0 {
		ts = dailyTimestamps(len(p.Values))
	}
	return domain.NewReturnSeries(name, ts, p.Values)
}

func dailyTimestamps(n int) []time.Time {
	ts := make([]time.Time, n)
	for i := range ts {
		ts[i] = seriesEpoch.AddDate(0, 0, i)
	}
	return ts
}
