package fgaclient

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/tidwall/gjson"
)

type TupleKey struct {
	User     string `json:"user"`
	Relation string `json:"relation"`
	Object   string `json:"object"`
}

type ContextualTupleKeys struct {
	TupleKeys []TupleKey `json:"tuple_keys"`
}

// CheckRequest asks whether User has Relation on Object. StoreID and
// AuthorizationModelID default to the configured values.
type CheckRequest struct {
	StoreID              string               `json:"-"`
	AuthorizationModelID string               `json:"authorization_model_id,omitempty"`
	TupleKey             TupleKey             `json:"tuple_key"`
	ContextualTuples     *ContextualTupleKeys `json:"contextual_tuples,omitempty"`
	Context              map[string]any       `json:"context,omitempty"`
	Consistency          string               `json:"consistency,omitempty"`
}

type CheckResponse struct {
	Allowed    bool   `json:"allowed"`
	Resolution string `json:"resolution,omitempty"`
}

// Check calls POST /stores/{store_id}/check.
func (c *Client) Check(ctx context.Context, req CheckRequest) (*CheckResponse, error) {
	storeID, err := c.storeID(req.StoreID)
	if err != nil {
		return nil, err
	}
	req.AuthorizationModelID = c.modelID(req.AuthorizationModelID)

	resp, err := c.Do(ctx, c.request("Check", storeID, req.AuthorizationModelID, "/check", req))
	if err != nil {
		return nil, err
	}
	var out CheckResponse
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, fmt.Errorf("decode check response: %w", err)
	}
	return &out, nil
}

// ListObjectsRequest lists the objects of Type that User has Relation on.
type ListObjectsRequest struct {
	StoreID              string               `json:"-"`
	AuthorizationModelID string               `json:"authorization_model_id,omitempty"`
	Type                 string               `json:"type"`
	Relation             string               `json:"relation"`
	User                 string               `json:"user"`
	ContextualTuples     *ContextualTupleKeys `json:"contextual_tuples,omitempty"`
	Context              map[string]any       `json:"context,omitempty"`
	Consistency          string               `json:"consistency,omitempty"`
}

type StreamedListObjectsResponse struct {
	Object string `json:"object"`
}

// StreamError is an error record sent inside an otherwise successful
// stream. The stream may continue after it.
type StreamError struct {
	Code    string
	Message string
}

func (e *StreamError) Error() string {
	if e.Code == "" {
		return "stream error: " + e.Message
	}
	return fmt.Sprintf("stream error %s: %s", e.Code, e.Message)
}

// StreamedListObjects calls POST /stores/{store_id}/streamed-list-objects
// and yields one object per {"result":{"object":...}} record.
func (c *Client) StreamedListObjects(ctx context.Context, req ListObjectsRequest) iter.Seq2[StreamedListObjectsResponse, error] {
	return func(yield func(StreamedListObjectsResponse, error) bool) {
		storeID, err := c.storeID(req.StoreID)
		if err != nil {
			yield(StreamedListObjectsResponse{}, err)
			return
		}
		req.AuthorizationModelID = c.modelID(req.AuthorizationModelID)

		records := c.Stream(ctx, c.request("StreamedListObjects", storeID, req.AuthorizationModelID, "/streamed-list-objects", req))
		for rec, err := range records {
			if err != nil {
				if !yield(StreamedListObjectsResponse{}, err) {
					return
				}
				continue
			}
			out, err := decodeListObjectsRecord(rec)
			if !yield(out, err) {
				return
			}
		}
	}
}

func decodeListObjectsRecord(rec json.RawMessage) (StreamedListObjectsResponse, error) {
	if e := gjson.GetBytes(rec, "error"); e.Exists() {
		return StreamedListObjectsResponse{}, &StreamError{
			Code:    e.Get("code").String(),
			Message: e.Get("message").String(),
		}
	}
	result := gjson.GetBytes(rec, "result")
	if !result.IsObject() {
		return StreamedListObjectsResponse{}, fmt.Errorf("unexpected stream record: %s", truncate(rec, 256))
	}
	var out StreamedListObjectsResponse
	if err := json.Unmarshal([]byte(result.Raw), &out); err != nil {
		return StreamedListObjectsResponse{}, fmt.Errorf("decode streamed object: %w", err)
	}
	return out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
