// Package queue receives DID requests from a message broker and dispatches
// them to registered task handlers.
package queue

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/ssl-hep/ServiceX-DID/errors"
)

// Request is one DID lookup asked for by ServiceX.
//
// Two message forms exist on the wire. The request form carries
// {did, request_id, service-endpoint}; the dataset form carries
// {did, dataset_id, endpoint}. Either may name a task.
type Request struct {
	DID       string
	RequestID string
	DatasetID string
	Endpoint  string
	Task      string
}

// ID returns the identifier used in logs and failure messages.
func (r Request) ID() string {
	if r.RequestID != "" {
		return r.RequestID
	}
	return r.DatasetID
}

type wireRequest struct {
	DID             *string         `json:"did"`
	RequestID       string          `json:"request_id"`
	ServiceEndpoint string          `json:"service-endpoint"`
	DatasetID       json.RawMessage `json:"dataset_id"`
	Endpoint        string          `json:"endpoint"`
	Task            string          `json:"task"`
}

// DecodeRequest parses a message body. Errors are marked as malformed
// requests.
func DecodeRequest(body []byte) (Request, error) {
	var w wireRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return Request{}, errors.WrapMalformedRequest(err, "invalid JSON")
	}

	if w.DID == nil || *w.DID == "" {
		return Request{}, errors.WrapMalformedRequest(errors.New(`missing "did"`), "invalid request")
	}

	datasetID, err := decodeDatasetID(w.DatasetID)
	if err != nil {
		return Request{}, errors.WrapMalformedRequest(err, "invalid dataset_id")
	}

	req := Request{
		DID:       *w.DID,
		RequestID: w.RequestID,
		DatasetID: datasetID,
		Task:      w.Task,
	}

	switch {
	case datasetID != "":
		req.Endpoint = w.Endpoint
		if req.Endpoint == "" {
			req.Endpoint = w.ServiceEndpoint
		}
	case w.RequestID != "":
		req.Endpoint = w.ServiceEndpoint
		if req.Endpoint == "" {
			req.Endpoint = w.Endpoint
		}
	default:
		return Request{}, errors.WrapMalformedRequest(
			errors.New(`message needs "request_id" or "dataset_id"`), "invalid request")
	}

	if req.Endpoint == "" {
		return Request{}, errors.WrapMalformedRequest(
			errors.New(`missing "service-endpoint" or "endpoint"`), "invalid request")
	}
	return req, nil
}

// decodeDatasetID accepts a JSON number or string.
func decodeDatasetID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", errors.Newf("dataset_id must be a number or string, got %s", string(raw))
	}
	return n.String(), nil
}
