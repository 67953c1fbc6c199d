// Package tokencodec serializes psep.TrackingToken values to and from the
// flat byte representation the SQL-backed token stores persist. Wire
// formats for domain events are explicitly out of scope for this module;
// this codec exists only to round-trip the two reference token shapes
// through a TEXT/BLOB column.
package tokencodec

import (
	"encoding/json"
	"fmt"

	"github.com/pooledstream/psep"
)

type dto struct {
	Kind    string `json:"kind"`
	Pos     int64  `json:"pos,omitempty"`
	Start   *dto   `json:"start,omitempty"`
	Current *dto   `json:"current,omitempty"`
	Reset   *dto   `json:"reset,omitempty"`
}

func toDTO(tok psep.TrackingToken) (*dto, error) {
	switch t := tok.(type) {
	case nil:
		return &dto{Kind: "nil"}, nil
	case psep.GlobalSequenceToken:
		return &dto{Kind: "global", Pos: t.Pos}, nil
	case *psep.ReplayToken:
		if t == nil {
			return &dto{Kind: "nil"}, nil
		}
		start, err := toDTO(t.StartToken)
		if err != nil {
			return nil, err
		}
		current, err := toDTO(t.CurrentToken)
		if err != nil {
			return nil, err
		}
		reset, err := toDTO(t.ResetToken)
		if err != nil {
			return nil, err
		}
		return &dto{Kind: "replay", Start: start, Current: current, Reset: reset}, nil
	default:
		return nil, fmt.Errorf("tokencodec: unsupported token type %T", tok)
	}
}

func fromDTO(d *dto) (psep.TrackingToken, error) {
	if d == nil || d.Kind == "nil" {
		return nil, nil
	}
	switch d.Kind {
	case "global":
		return psep.NewGlobalSequenceToken(d.Pos), nil
	case "replay":
		start, err := fromDTO(d.Start)
		if err != nil {
			return nil, err
		}
		current, err := fromDTO(d.Current)
		if err != nil {
			return nil, err
		}
		reset, err := fromDTO(d.Reset)
		if err != nil {
			return nil, err
		}
		return &psep.ReplayToken{StartToken: start, CurrentToken: current, ResetToken: reset}, nil
	default:
		return nil, fmt.Errorf("tokencodec: unknown token kind %q", d.Kind)
	}
}

// Encode marshals tok to its persisted byte representation.
func Encode(tok psep.TrackingToken) ([]byte, error) {
	d, err := toDTO(tok)
	if err != nil {
		return nil, err
	}
	return json.Marshal(d)
}

// Decode unmarshals data produced by Encode back into a TrackingToken.
func Decode(data []byte) (psep.TrackingToken, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var d dto
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("tokencodec: decode: %w", err)
	}
	return fromDTO(&d)
}
