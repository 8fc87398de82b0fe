package upstream

import (
	"encoding/json"
	"fmt"
)

// PositionReport is the only message type the relay subscribes to.
const PositionReport = "PositionReport"

// BoundingBox is a pair of [latitude, longitude] corners.
type BoundingBox [2][2]float64

// World covers every position on the globe.
var World = BoundingBox{{-90, -180}, {90, 180}}

// SubscriptionRequest is the control message sent once per established connection.
type SubscriptionRequest struct {
	APIKey             string        `json:"APIKey"`
	BoundingBoxes      []BoundingBox `json:"BoundingBoxes"`
	FilterMessageTypes []string      `json:"FilterMessageTypes"`
}

func NewSubscriptionRequest(apiKey string) SubscriptionRequest {
	return SubscriptionRequest{
		APIKey:             apiKey,
		BoundingBoxes:      []BoundingBox{World},
		FilterMessageTypes: []string{PositionReport},
	}
}

func (r SubscriptionRequest) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal subscription request: %w", err)
	}
	return data, nil
}
